package backtest

import (
	"context"
	"fmt"
	"sync"

	"mtfsignal/internal/market"
)

// OrderLog keeps execution records in memory. It satisfies market.Recorder
// so the replay and the live pipeline record fills the same way.
type OrderLog struct {
	mu     sync.Mutex
	orders []market.Order
	limit  int
}

// NewOrderLog keeps at most limit records; 0 keeps everything.
func NewOrderLog(limit int) *OrderLog {
	return &OrderLog{limit: limit}
}

func (l *OrderLog) RecordOrder(ctx context.Context, order *market.Order) error {
	if l == nil {
		return fmt.Errorf("order log not initialised")
	}
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = append(l.orders, *order)
	if l.limit > 0 && len(l.orders) > l.limit {
		l.orders = append([]market.Order(nil), l.orders[len(l.orders)-l.limit:]...)
	}
	return nil
}

// Orders returns a copy, oldest first.
func (l *OrderLog) Orders() []market.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]market.Order(nil), l.orders...)
}

func (l *OrderLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}
