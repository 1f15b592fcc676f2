// Package engine implements the trust-and-transaction core: community
// credibility scoring, the payment escrow state machine and the reputation
// ledger. All persisted state goes through the store; every externally
// visible change is broadcast only after the store write has committed.
package engine

import (
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/questmap/backend/internal/store"
)

const (
	DefaultFeeRate          = 0.05
	DefaultMinPaymentAmount = 10000
)

// Broadcaster is the fan-out surface the engine needs; satisfied by
// *realtime.Hub.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
	BroadcastAdmins(eventType string, payload any)
}

// Engine wires the store and the broadcast hub together.
type Engine struct {
	store     *store.Store
	hub       Broadcaster
	log       *zap.SugaredLogger
	feeRate   float64
	minAmount int64
}

// Option configures an Engine.
type Option func(*Engine)

func WithFeeRate(rate float64) Option {
	return func(e *Engine) {
		if rate > 0 && rate < 1 {
			e.feeRate = rate
		}
	}
}

func WithMinPaymentAmount(min int64) Option {
	return func(e *Engine) {
		if min > 0 {
			e.minAmount = min
		}
	}
}

func New(st *store.Store, hub Broadcaster, log *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		hub:       hub,
		log:       log,
		feeRate:   DefaultFeeRate,
		minAmount: DefaultMinPaymentAmount,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OptionsFromEnv reads FEE_RATE and MIN_PAYMENT_AMOUNT.
func OptionsFromEnv() []Option {
	var opts []Option
	if v := os.Getenv("FEE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			opts = append(opts, WithFeeRate(rate))
		}
	}
	if v := os.Getenv("MIN_PAYMENT_AMOUNT"); v != "" {
		if min, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts = append(opts, WithMinPaymentAmount(min))
		}
	}
	return opts
}
