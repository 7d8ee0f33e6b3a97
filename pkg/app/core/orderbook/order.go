package orderbook

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

// ErrInvalidSide is returned when parsing an unknown side name
var ErrInvalidSide = errors.New("invalid side")

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(v) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, errors.Wrapf(ErrInvalidSide, "%q", v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Wrapf(ErrInvalidSide, "%d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Order is a resting limit order
// Price is settlement units per whole unit of Ticker
type Order struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Ticker    token.Ticker   `json:"ticker"`
	Side      Side           `json:"side"`
	Price     int64          `json:"price"`
	Amount    int64          `json:"amount"`
	Filled    int64          `json:"filled"`
	Seq       uint64         `json:"seq"` // time priority, lower is older
	CreatedAt time.Time      `json:"created_at"`
}

// Remaining returns the unfilled quantity
func (o Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// before reports whether o has priority over other on the same side
func (o *Order) before(other *Order) bool {
	if o.Price != other.Price {
		if o.Side == Buy {
			return o.Price > other.Price
		}
		return o.Price < other.Price
	}
	return o.Seq < other.Seq
}
