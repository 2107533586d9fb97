package api

import (
	"context"
	"net/http"

	"github.com/rickgao/dtc-feed/internal/model"
)

// Feed is the subset of the feed manager the API drives.
type Feed interface {
	Status() model.FeedStatus
	Subscriptions() []model.Subscription
	Add(ctx context.Context, symbol, exchange string) error
	Remove(ctx context.Context, symbol, exchange string) error
	RequestSecurityDefinition(ctx context.Context, symbol, exchange string) (int32, error)
}

// QuoteReader reads latest quotes.
type QuoteReader interface {
	Get(ctx context.Context, symbol, exchange string) (model.Quote, bool)
	All(ctx context.Context) []model.Quote
	Ping(ctx context.Context) error
}

// DefinitionSource lists received security definitions.
type DefinitionSource interface {
	Definitions() []model.SecurityDefinition
}

// StatsFunc reports one component's counters for /status.
type StatsFunc func() any

// Config holds server configuration.
type Config struct {
	Port int
}

// Deps are the components behind the routes. Feed and Quotes are required.
type Deps struct {
	Feed        Feed
	Quotes      QuoteReader
	Definitions DefinitionSource     // optional
	Stream      http.Handler         // optional, serves /ws
	Stats       map[string]StatsFunc // optional, keyed by component name
}

// instrumentRequest is the body of POST /subscriptions and /definitions.
type instrumentRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Exchange string `json:"exchange"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
