package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/camuig/sigtrader/internal/exchange"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		notFound  bool
		rejected  string
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection reset"), true, false, ""},
		{"rate limited", status.Error(codes.ResourceExhausted, "80002"), true, false, ""},
		{"deadline", fmt.Errorf("post order: %w", context.DeadlineExceeded), true, false, ""},
		{"not found", status.Error(codes.NotFound, "50005 order not found"), false, true, ""},
		{"business rejection", status.Error(codes.InvalidArgument, "30042 not enough assets"), false, false, "30042 not enough assets"},
		{"precondition", status.Error(codes.FailedPrecondition, "30079 instrument not available"), false, false, "30079 instrument not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if errors.Is(got, exchange.ErrTransient) != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", !tt.transient, tt.transient, got)
			}
			if errors.Is(got, exchange.ErrNotFound) != tt.notFound {
				t.Errorf("not found = %v, want %v (%v)", !tt.notFound, tt.notFound, got)
			}
			var rej *exchange.RejectedError
			if errors.As(got, &rej) != (tt.rejected != "") {
				t.Fatalf("rejected = %v, want %q", got, tt.rejected)
			}
			if rej != nil && rej.Raw != tt.rejected {
				t.Errorf("raw = %q, want %q", rej.Raw, tt.rejected)
			}
		})
	}
}

func TestToLots(t *testing.T) {
	tests := []struct {
		qty     string
		lot     int64
		want    int64
		wantErr bool
	}{
		{"100", 10, 10, false},
		{"10", 1, 10, false},
		{"15", 10, 0, true},
		{"0", 10, 0, true},
		{"10", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.qty, tt.lot), func(t *testing.T) {
			got, err := toLots(decimal.RequireFromString(tt.qty), tt.lot)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("lots = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQuotationKeepsNanos(t *testing.T) {
	q := toQuotation(decimal.RequireFromString("97.015"))
	if q.Units != 97 || q.Nano != 15000000 {
		t.Fatalf("quotation = %d/%d", q.Units, q.Nano)
	}
	if got := fromQuotation(q); !got.Equal(decimal.RequireFromString("97.015")) {
		t.Errorf("decimal = %s", got)
	}
}

func risingCandles(n int) []Candle {
	start := time.Date(2023, 1, 1, 7, 0, 0, 0, time.UTC)
	candles := make([]Candle, n)
	for i := range candles {
		price := 100 + float64(i)*0.5
		candles[i] = Candle{
			Time:   start.AddDate(0, 0, i),
			High:   price + 1,
			Low:    price - 1,
			Close:  decimal.NewFromFloat(price),
			Volume: 1000,
		}
	}
	return candles
}

func TestSnapshotFrom(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("full history", func(t *testing.T) {
		in, err := SnapshotFrom("SBER", risingCandles(250), at)
		if err != nil {
			t.Fatal(err)
		}
		s := in.Snapshot
		for name, v := range map[string]*float64{
			"rsi": s.RSI, "ma50": s.MA50, "ma200": s.MA200, "ema10": s.EMA10,
			"volume": s.Volume, "avg_volume": s.AvgVolume, "atr": s.ATR,
		} {
			if v == nil {
				t.Errorf("%s missing", name)
			}
		}
		if !in.Price.Equal(decimal.NewFromFloat(224.5)) {
			t.Errorf("price = %s, want 224.5", in.Price)
		}
		if *s.MA50 <= *s.MA200 {
			t.Errorf("rising series: ma50 %f should exceed ma200 %f", *s.MA50, *s.MA200)
		}
		if *s.RSI != 100 {
			t.Errorf("rsi = %f, want 100 for a series without losses", *s.RSI)
		}
	})

	t.Run("short history", func(t *testing.T) {
		in, err := SnapshotFrom("SBER", risingCandles(60), at)
		if err != nil {
			t.Fatal(err)
		}
		if in.Snapshot.MA200 != nil {
			t.Error("ma200 must be missing with 60 candles")
		}
		if in.Snapshot.MA50 == nil || in.Snapshot.RSI == nil {
			t.Error("ma50 and rsi should be present")
		}
	})

	t.Run("no candles", func(t *testing.T) {
		if _, err := SnapshotFrom("SBER", nil, at); err == nil {
			t.Error("expected error")
		}
	})
}
