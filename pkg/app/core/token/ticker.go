package token

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// TickerLength is the fixed width of a ticker (bytes32 on the asset side)
const TickerLength = 32

// ErrInvalidTicker is returned for empty, oversized or non-printable tickers
var ErrInvalidTicker = errors.New("invalid ticker")

// Ticker identifies a token by its symbol, right-padded with zero bytes
// Equality and map hashing are plain array equality
type Ticker [TickerLength]byte

// NewTicker builds a ticker from a symbol like "REP"
func NewTicker(symbol string) (Ticker, error) {
	var t Ticker
	if len(symbol) == 0 {
		return t, errors.Wrap(ErrInvalidTicker, "empty symbol")
	}
	if len(symbol) > TickerLength {
		return t, errors.Wrapf(ErrInvalidTicker, "symbol %q longer than %d bytes", symbol, TickerLength)
	}
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c <= ' ' || c > '~' {
			return t, errors.Wrapf(ErrInvalidTicker, "symbol %q has non-printable byte at %d", symbol, i)
		}
	}
	copy(t[:], symbol)
	return t, nil
}

// MustTicker is NewTicker for constants and tests
func MustTicker(symbol string) Ticker {
	t, err := NewTicker(symbol)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the symbol without padding
func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// Hex returns the 0x-prefixed bytes32 form
func (t Ticker) Hex() string {
	return common.Hash(t).Hex()
}

// IsZero reports whether the ticker was never set
func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := NewTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
