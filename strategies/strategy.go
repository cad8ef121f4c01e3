package strategies

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantfold/ledger/ledger"
)

// Env is the order-placement surface the engine exposes to strategies.
// PlaceMarketOrder registers ownership before submission, so every fill for
// the order can be attributed.
type Env interface {
	AccountID() string
	ResolveEquity(ctx context.Context, strategy string) (float64, error)
	Positions(strategy string) []ledger.Position
	PlaceMarketOrder(ctx context.Context, strategy, instrument string, quantity float64) (string, error)
}

// Strategy is the capability interface every strategy variant implements.
// The reconciliation core is strategy-agnostic; only the order-placement
// layer consumes this polymorphically.
type Strategy interface {
	Name() string
	Initialize(ctx context.Context, env Env) error
	Run(ctx context.Context) error
	OnOrderRegistered(orderID string)
}

var registry = make(map[string]Strategy)

func Register(s Strategy) {
	registry[s.Name()] = s
}

func Get(name string) Strategy {
	return registry[name]
}

// ByName builds a strategy variant from its config.
func ByName(variant, name, instrument string, quantity float64) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case "noop", "none":
		return &Noop{name: name}, nil

	case "open-once":
		return &OpenOnce{
			name:       name,
			instrument: instrument,
			quantity:   quantity,
		}, nil

	default:
		return nil, fmt.Errorf("unknown strategy variant %q (supported: noop, open-once)", variant)
	}
}
