package strategy

import "github.com/shopspring/decimal"

var DefaultEpsilon = decimal.RequireFromString("0.05")

// Momentum is a long-only trend follower. It trades only while the
// long-horizon momentum is positive: it buys when a tick rises by more than
// Epsilon from the previous tick and sells a held position when a tick falls
// by more than Epsilon.
type Momentum struct {
	Qty     int64
	Epsilon decimal.Decimal
}

func (m Momentum) Decide(snapshot MarketSnapshot) TradeIntent {
	if !snapshot.LongMomentum.IsPositive() {
		return TradeIntent{Action: Hold, Reason: "long_momentum_not_positive"}
	}
	if snapshot.PositionQty == 0 && snapshot.InstantMomentum.GreaterThan(m.Epsilon) {
		return TradeIntent{
			Action: Buy,
			Qty:    m.Qty,
			Reason: "instant_momentum_above_epsilon",
		}
	}
	if snapshot.PositionQty > 0 && snapshot.InstantMomentum.LessThan(m.Epsilon.Neg()) {
		return TradeIntent{
			Action: Sell,
			Qty:    snapshot.PositionQty,
			Reason: "instant_momentum_below_epsilon",
		}
	}
	return TradeIntent{Action: Hold, Reason: "no_signal"}
}
