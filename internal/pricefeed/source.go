// Package pricefeed collects token prices into the sample store, on a fast
// cadence for tokens in live competitions and a slow one for everything else.
package pricefeed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tokenwars/internal/client/jupiter"
)

// Quote is one observed price for a mint.
type Quote struct {
	Address    string
	Price      decimal.Decimal
	Confidence *float64
	At         time.Time
}

// PriceSource fetches current prices for a batch of mints. Mints the source
// cannot price are simply absent from the result.
type PriceSource interface {
	Fetch(ctx context.Context, mints []string) (map[string]Quote, error)
	Name() string
}

// RESTSource prices mints through the Jupiter price API.
type RESTSource struct {
	Client *jupiter.Client
}

func (s *RESTSource) Name() string { return "jupiter" }

func (s *RESTSource) Fetch(ctx context.Context, mints []string) (map[string]Quote, error) {
	if s == nil || s.Client == nil || len(mints) == 0 {
		return nil, nil
	}
	prices, err := s.Client.GetPrices(ctx, mints)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make(map[string]Quote, len(prices))
	for mint, tp := range prices {
		out[mint] = Quote{
			Address:    mint,
			Price:      tp.Price,
			Confidence: tp.Confidence,
			At:         now,
		}
	}
	return out, nil
}
