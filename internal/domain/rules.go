package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitRules parameterises the per-cycle exit and peak rules.
type ExitRules struct {
	StopLossPercent float64
	PeakHysteresis  float64
}

// StopPrice returns the price at or below which a position is stopped out.
func (r ExitRules) StopPrice(entry float64) float64 {
	return r.stopPrice(entry).InexactFloat64()
}

func (r ExitRules) stopPrice(entry float64) decimal.Decimal {
	pct := decimal.NewFromFloat(r.StopLossPercent).Div(decimal.NewFromInt(100))
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(pct))
}

// StopHit reports whether mid is at or below the stop price for entry.
func (r ExitRules) StopHit(entry, mid float64) bool {
	return decimal.NewFromFloat(mid).LessThanOrEqual(r.stopPrice(entry))
}

// Action is the outcome of evaluating one position against one quote.
type Action int

const (
	// ActionSkip means the quote failed and nothing changes this cycle.
	ActionSkip Action = iota
	ActionExpire
	ActionStopLoss
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionExpire:
		return "expire"
	case ActionStopLoss:
		return "stop_loss"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Decision carries what the poller should do with a position this cycle.
type Decision struct {
	Action    Action
	ExitPrice float64 // ActionExpire, ActionStopLoss
	Price     float64 // ActionUpdate: current price after the quote
	Peak      float64 // ActionUpdate: peak after the quote
	Changed   bool    // ActionUpdate: current price moved and must be persisted
	NewPeak   bool    // ActionUpdate: peak rose by at least the hysteresis
}

// Expired reports whether the contract's expiration has been reached.
func (p Position) Expired(now time.Time) bool {
	return !now.Before(p.Expiration)
}

// Evaluate applies, in order, the expiration rule, the stop-loss rule and the
// peak/price update to an active position. quote is nil when the fetch failed;
// in that case only expiration can fire, exiting at the last known price.
func (r ExitRules) Evaluate(p Position, quote *Quote, now time.Time) Decision {
	if p.Expired(now) {
		exit := p.CurrentPrice
		if quote != nil {
			exit = quote.Mid
		}
		return Decision{Action: ActionExpire, ExitPrice: exit}
	}
	if quote == nil {
		return Decision{Action: ActionSkip}
	}

	mid := quote.Mid
	if r.StopHit(p.EntryPrice, mid) {
		return Decision{Action: ActionStopLoss, ExitPrice: mid}
	}

	d := Decision{Action: ActionUpdate, Price: p.CurrentPrice, Peak: p.PeakPrice}
	if mid != p.CurrentPrice {
		d.Price = mid
		d.Changed = true
		threshold := decimal.NewFromFloat(p.PeakPrice).Add(decimal.NewFromFloat(r.PeakHysteresis))
		if mid > p.PeakPrice && decimal.NewFromFloat(mid).GreaterThanOrEqual(threshold) {
			d.Peak = mid
			d.NewPeak = true
		}
	}
	return d
}
