package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type MarketSnapshot struct {
	Timestamp       time.Time
	Price           decimal.Decimal
	InstantMomentum decimal.Decimal
	LongMomentum    decimal.Decimal
	PositionQty     int64
}

type TradeIntent struct {
	Action Action
	Qty    int64
	Reason string
}

type Strategy interface {
	Decide(snapshot MarketSnapshot) TradeIntent
}
