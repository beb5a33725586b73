package indicators

import (
	"math"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSMA(t *testing.T) {
	got, ok := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !ok || !almost(got, 4) {
		t.Fatalf("SMA = %v ok=%v, want 4", got, ok)
	}
	if _, ok := SMA([]float64{1, 2}, 3); ok {
		t.Fatal("SMA with short history must not be ok")
	}
}

func TestEMAConstantSeries(t *testing.T) {
	got, ok := EMA([]float64{5, 5, 5, 5, 5, 5}, 3)
	if !ok || !almost(got, 5) {
		t.Fatalf("EMA = %v ok=%v, want 5", got, ok)
	}
	if _, ok := EMA([]float64{5, 5}, 3); ok {
		t.Fatal("EMA with short history must not be ok")
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	if got, ok := RSI(rising, 5); !ok || got != 100 {
		t.Fatalf("RSI rising = %v, want 100", got)
	}
	falling := []float64{6, 5, 4, 3, 2, 1}
	if got, ok := RSI(falling, 5); !ok || !almost(got, 0) {
		t.Fatalf("RSI falling = %v, want 0", got)
	}
	if _, ok := RSI([]float64{1, 2}, 5); ok {
		t.Fatal("RSI with short history must not be ok")
	}
}

func TestATRConstantRange(t *testing.T) {
	highs := []float64{11, 11, 11, 11}
	lows := []float64{9, 9, 9, 9}
	closes := []float64{10, 10, 10, 10}
	got, ok := ATR(highs, lows, closes, 2)
	if !ok || !almost(got, 2) {
		t.Fatalf("ATR = %v ok=%v, want 2", got, ok)
	}
}
