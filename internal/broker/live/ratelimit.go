package live

import (
	"context"

	"golang.org/x/time/rate"
)

// classLimiter groups the per-endpoint-class token buckets the live adapter
// must respect: quotes, orders, and history each have independent vendor
// budgets.
type classLimiter struct {
	Quotes  *rate.Limiter
	Orders  *rate.Limiter
	History *rate.Limiter
}

// newClassLimiter builds limiters tuned to typical Indian-brokerage vendor
// budgets: quote polling is the highest-frequency path, order placement is
// the most constrained, and historical fetches are the least frequent but
// the most expensive per call.
func newClassLimiter() *classLimiter {
	return &classLimiter{
		Quotes:  rate.NewLimiter(rate.Limit(10), 20),
		Orders:  rate.NewLimiter(rate.Limit(5), 10),
		History: rate.NewLimiter(rate.Limit(2), 4),
	}
}

func (c *classLimiter) waitQuotes(ctx context.Context) error  { return c.Quotes.Wait(ctx) }
func (c *classLimiter) waitOrders(ctx context.Context) error  { return c.Orders.Wait(ctx) }
func (c *classLimiter) waitHistory(ctx context.Context) error { return c.History.Wait(ctx) }
