package marketdata

import (
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// chainResponse is the columnar options chain payload: every field is an
// array with one element per contract.
type chainResponse struct {
	S               string    `json:"s"`
	Errmsg          string    `json:"errmsg"`
	OptionSymbol    []string  `json:"optionSymbol"`
	Underlying      []string  `json:"underlying"`
	Expiration      []int64   `json:"expiration"`
	Side            []string  `json:"side"`
	Strike          []float64 `json:"strike"`
	Bid             []float64 `json:"bid"`
	Ask             []float64 `json:"ask"`
	Last            []float64 `json:"last"`
	Volume          []float64 `json:"volume"`
	OpenInterest    []float64 `json:"openInterest"`
	UnderlyingPrice []float64 `json:"underlyingPrice"`
}

// rows reports how many complete contracts the response carries.
func (r chainResponse) rows() int {
	n := len(r.OptionSymbol)
	for _, l := range []int{len(r.Bid), len(r.Ask)} {
		if l < n {
			n = l
		}
	}
	return n
}

func at[T any](s []T, i int) T {
	var zero T
	if i < len(s) {
		return s[i]
	}
	return zero
}

func (r chainResponse) contract(i int) domain.Contract {
	c := domain.Contract{
		Symbol:          r.OptionSymbol[i],
		Underlying:      at(r.Underlying, i),
		Strike:          at(r.Strike, i),
		Bid:             r.Bid[i],
		Ask:             r.Ask[i],
		Last:            at(r.Last, i),
		Volume:          int64(at(r.Volume, i)),
		OpenInterest:    int64(at(r.OpenInterest, i)),
		UnderlyingPrice: at(r.UnderlyingPrice, i),
	}
	if kind, err := domain.ParseOptionKind(at(r.Side, i)); err == nil {
		c.Kind = kind
	}
	if exp := at(r.Expiration, i); exp > 0 {
		c.Expiration = time.Unix(exp, 0).UTC()
	}
	return c
}
