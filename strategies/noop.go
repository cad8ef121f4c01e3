package strategies

import "context"

// Noop places no orders. Useful for wiring tests and as a placeholder slot
// in a multi-strategy config.
type Noop struct {
	name string
}

func NewNoop(name string) *Noop { return &Noop{name: name} }

func (s *Noop) Name() string { return s.name }

func (s *Noop) Initialize(ctx context.Context, env Env) error { return nil }

func (s *Noop) Run(ctx context.Context) error { return nil }

func (s *Noop) OnOrderRegistered(orderID string) {}
