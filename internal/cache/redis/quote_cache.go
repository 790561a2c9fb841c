package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes at
// "{prefix}:quote:{positionID}". Entries expire after ttl so a stopped poller
// does not leave stale quotes behind.
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{c: c, ttl: ttl}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetQuote stores the latest quote for a position.
func (qc *QuoteCache) SetQuote(ctx context.Context, positionID string, q domain.Quote) error {
	key := qc.c.Key("quote", positionID)
	err := qc.c.rdb.HSet(ctx, key,
		"mid", formatFloat(q.Mid),
		"last", formatFloat(q.Last),
		"bid", formatFloat(q.Bid),
		"ask", formatFloat(q.Ask),
		"volume", strconv.FormatInt(q.Volume, 10),
		"oi", strconv.FormatInt(q.OpenInterest, 10),
		"underlying", formatFloat(q.UnderlyingPrice),
		"ts", strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set quote %s: %w", positionID, err)
	}
	if qc.ttl > 0 {
		if err := qc.c.rdb.Expire(ctx, key, qc.ttl).Err(); err != nil {
			return fmt.Errorf("redis: expire quote %s: %w", positionID, err)
		}
	}
	return nil
}

// GetQuote returns the cached quote, or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, positionID string) (domain.Quote, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.c.Key("quote", positionID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", positionID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	var q domain.Quote
	var perr error
	parseF := func(field string) float64 {
		v, err := strconv.ParseFloat(vals[field], 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("redis: parse quote %s field %s: %w", positionID, field, err)
		}
		return v
	}
	parseI := func(field string) int64 {
		v, err := strconv.ParseInt(vals[field], 10, 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("redis: parse quote %s field %s: %w", positionID, field, err)
		}
		return v
	}

	q.Mid = parseF("mid")
	q.Last = parseF("last")
	q.Bid = parseF("bid")
	q.Ask = parseF("ask")
	q.Volume = parseI("volume")
	q.OpenInterest = parseI("oi")
	q.UnderlyingPrice = parseF("underlying")
	q.FetchedAt = time.Unix(0, parseI("ts")).UTC()
	if perr != nil {
		return domain.Quote{}, perr
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
