package strategies

import (
	"context"
	"fmt"
	"sync"
)

// OpenOnce opens a single position of a fixed size on its first run. It
// checks its equity allocation before placing the order, so a missing
// allocation surfaces to the caller instead of sizing silently.
type OpenOnce struct {
	name       string
	instrument string
	quantity   float64

	mu      sync.Mutex
	env     Env
	opened  bool
	orderID string
}

func NewOpenOnce(name, instrument string, quantity float64) *OpenOnce {
	return &OpenOnce{name: name, instrument: instrument, quantity: quantity}
}

func (s *OpenOnce) Name() string { return s.name }

func (s *OpenOnce) Initialize(ctx context.Context, env Env) error {
	if s.instrument == "" || s.quantity == 0 {
		return fmt.Errorf("strategy %s: instrument and quantity are required", s.name)
	}
	s.mu.Lock()
	s.env = env
	s.mu.Unlock()
	return nil
}

func (s *OpenOnce) Run(ctx context.Context) error {
	s.mu.Lock()
	env := s.env
	done := s.opened
	s.mu.Unlock()

	if env == nil {
		return fmt.Errorf("strategy %s: not initialized", s.name)
	}
	if done {
		return nil
	}

	// Sizing must be defined before any order goes out.
	if _, err := env.ResolveEquity(ctx, s.name); err != nil {
		return fmt.Errorf("strategy %s: %w", s.name, err)
	}

	orderID, err := env.PlaceMarketOrder(ctx, s.name, s.instrument, s.quantity)
	if err != nil {
		return fmt.Errorf("strategy %s: place order: %w", s.name, err)
	}

	s.mu.Lock()
	s.opened = true
	s.orderID = orderID
	s.mu.Unlock()
	return nil
}

func (s *OpenOnce) OnOrderRegistered(orderID string) {}

// OrderID returns the id of the order placed, if any.
func (s *OpenOnce) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID
}
