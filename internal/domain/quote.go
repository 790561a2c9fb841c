package domain

import (
	"context"
	"time"
)

// QuoteRequest keys a quote lookup for a single contract.
type QuoteRequest struct {
	Underlying string
	Strike     float64
	Kind       OptionKind
	Expiration time.Time
}

// Quote is a point-in-time market snapshot for one contract.
type Quote struct {
	Mid             float64   `json:"mid"`
	Last            float64   `json:"last"`
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	Volume          int64     `json:"volume"`
	OpenInterest    int64     `json:"open_interest"`
	UnderlyingPrice float64   `json:"underlying_price"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// QuoteSource fetches live option quotes. Implementations must be safe for
// concurrent use by distinct positions.
type QuoteSource interface {
	GetQuote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// ContractQuery describes the search used when opening a new position.
// Zero values mean "no constraint".
type ContractQuery struct {
	Underlying string
	Kind       OptionKind
	Strike     float64
	Expiration time.Time
	MinBid     float64
	MaxAsk     float64
	MinVolume  int64
}

// ContractFinder looks up a tradable contract matching a query.
type ContractFinder interface {
	FindContract(ctx context.Context, q ContractQuery) (Contract, error)
}
