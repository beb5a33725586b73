package signal

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

type Preset string

const (
	PresetSwing    Preset = "swing"
	PresetIntraday Preset = "intraday"
	PresetScalp    Preset = "scalp"
)

type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskAggressive   RiskProfile = "aggressive"
)

// Strategy is a resolved preset and risk profile pair.
type Strategy struct {
	Key    string
	Preset Preset
	Risk   RiskProfile

	RSIBuyBelow  float64
	RSISellAbove float64

	// TrendFilter requires MA50 on the right side of MA200.
	TrendFilter bool
	// MinVolumeRatio is the minimum volume / average volume; 0 disables the check.
	MinVolumeRatio float64

	MinConfidence int

	ATRStopMult float64
	ATRTakeMult float64
}

var presets = map[Preset]Strategy{
	PresetSwing: {
		RSIBuyBelow:    30,
		RSISellAbove:   70,
		TrendFilter:    true,
		MinVolumeRatio: 0,
		ATRStopMult:    2.0,
		ATRTakeMult:    4.0,
	},
	PresetIntraday: {
		RSIBuyBelow:    35,
		RSISellAbove:   65,
		TrendFilter:    true,
		MinVolumeRatio: 1.2,
		ATRStopMult:    1.5,
		ATRTakeMult:    3.0,
	},
	PresetScalp: {
		RSIBuyBelow:    40,
		RSISellAbove:   60,
		TrendFilter:    false,
		MinVolumeRatio: 1.5,
		ATRStopMult:    1.0,
		ATRTakeMult:    1.5,
	},
}

// Resolve parses a "<preset>-<risk>" key, e.g. "swing-conservative".
func Resolve(key string) (Strategy, error) {
	presetName, riskName, ok := strings.Cut(strings.ToLower(strings.TrimSpace(key)), "-")
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, key)
	}

	s, ok := presets[Preset(presetName)]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: preset %q", ErrUnknownStrategy, presetName)
	}
	s.Key = presetName + "-" + riskName
	s.Preset = Preset(presetName)
	s.Risk = RiskProfile(riskName)

	switch s.Risk {
	case RiskConservative:
		s.MinConfidence = 60
	case RiskAggressive:
		s.MinConfidence = 40
		s.RSIBuyBelow += 5
		s.RSISellAbove -= 5
		s.ATRStopMult *= 1.25
		s.ATRTakeMult *= 1.25
	default:
		return Strategy{}, fmt.Errorf("%w: risk profile %q", ErrUnknownStrategy, riskName)
	}
	return s, nil
}
