package handlers

import "context"

// MarketDataProvider is the market-data collaborator the gated commands
// wrap. The gate never inspects its internals; failures surface as error
// values converted to a user-facing notice here.
type MarketDataProvider interface {
	GetQuote(ctx context.Context, symbol string) (string, error)
	GetSentiment(ctx context.Context, symbol string) (string, error)
	GetEarnings(ctx context.Context, symbol string) (string, error)
	GetDividend(ctx context.Context, symbol string) (string, error)
	GetHoldings(ctx context.Context, symbol string) (string, error)
	GetTopGainers(ctx context.Context) (string, error)
	GetTopLosers(ctx context.Context) (string, error)
}
