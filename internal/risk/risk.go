package risk

import (
	"errors"
	"log/slog"

	"delphi/internal/strategy"
)

var (
	ErrKillSwitch         = errors.New("kill_switch_enabled")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrAlreadyHolding     = errors.New("already_holding")
	ErrNoPositionToSell   = errors.New("no_position_to_sell")
	ErrSellExceedsHolding = errors.New("sell_exceeds_position")
	ErrUnsupportedOrder   = errors.New("unsupported_order_type")
)

type RiskContext struct {
	PositionQty int64
	KillSwitch  bool
	OrderType   string
}

type ApprovedIntent struct {
	Intent strategy.TradeIntent
	Reason string
}

// Gate validates a single order intent. It does not size positions or
// track exposure.
type Gate struct{}

func (g Gate) Evaluate(intent strategy.TradeIntent, ctx RiskContext) (ApprovedIntent, error) {
	if intent.Action == strategy.Hold {
		return ApprovedIntent{Intent: intent, Reason: "hold"}, nil
	}

	slog.Debug("risk evaluation", "intent", intent.Action, "qty", intent.Qty, "position", ctx.PositionQty)

	if err := g.check(intent, ctx); err != nil {
		slog.Info("risk rejected", "intent", intent.Action, "reason", err.Error())
		return ApprovedIntent{}, err
	}

	slog.Debug("risk approved", "intent", intent.Action, "qty", intent.Qty, "reason", intent.Reason)
	return ApprovedIntent{Intent: intent, Reason: "approved"}, nil
}

func (g Gate) check(intent strategy.TradeIntent, ctx RiskContext) error {
	switch {
	case ctx.KillSwitch:
		return ErrKillSwitch
	case ctx.OrderType != "" && ctx.OrderType != "market":
		return ErrUnsupportedOrder
	case intent.Qty <= 0:
		return ErrInvalidQuantity
	case intent.Action == strategy.Buy && ctx.PositionQty > 0:
		return ErrAlreadyHolding
	case intent.Action == strategy.Sell && ctx.PositionQty <= 0:
		return ErrNoPositionToSell
	case intent.Action == strategy.Sell && intent.Qty > ctx.PositionQty:
		return ErrSellExceedsHolding
	}
	return nil
}
