package domain

import "time"

// TradeDirection is the statistical signal for a cointegrated pair.
type TradeDirection int

const (
	SignalHold TradeDirection = iota
	SignalShortALongB
	SignalLongAShortB
	SignalClosePosition
)

func (d TradeDirection) String() string {
	switch d {
	case SignalShortALongB:
		return "SHORT_A_LONG_B"
	case SignalLongAShortB:
		return "LONG_A_SHORT_B"
	case SignalClosePosition:
		return "CLOSE_POSITION"
	default:
		return "HOLD"
	}
}

// ZScoreSignal is one evaluation of a pair's ratio against its rolling
// distribution.
type ZScoreSignal struct {
	Pair       string
	ZScore     float64
	Mean       float64
	StdDev     float64
	Ratio      float64
	Direction  TradeDirection
	Confidence float64
	Samples    int
	ComputedAt time.Time
}
