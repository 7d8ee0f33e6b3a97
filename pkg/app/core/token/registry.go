package token

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateToken = errors.New("token already registered")
	ErrUnknownToken   = errors.New("unknown token")
)

// Token binds a ticker to the external asset it represents
type Token struct {
	Ticker Ticker         `json:"ticker"`
	Asset  common.Address `json:"asset"` // e.g. ERC-20 contract address
}

// Registry maps tickers to tokens in a thread-safe manner
// The settlement token is registered first and prices every market
// Tokens, once listed, stay listed
type Registry struct {
	mu         sync.RWMutex
	tokens     map[Ticker]Token
	order      []Ticker // registration order, settlement first
	settlement Ticker
}

// NewRegistry creates a registry holding only the settlement token
func NewRegistry(settlement Token) *Registry {
	return &Registry{
		tokens:     map[Ticker]Token{settlement.Ticker: settlement},
		order:      []Ticker{settlement.Ticker},
		settlement: settlement.Ticker,
	}
}

// Add registers a new ticker -> asset mapping
// Returns ErrDuplicateToken if the ticker is already listed
func (r *Registry) Add(ticker Ticker, asset common.Address) error {
	if ticker.IsZero() {
		return errors.Wrap(ErrInvalidTicker, "zero ticker")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[ticker]; exists {
		return errors.Wrapf(ErrDuplicateToken, "%s", ticker)
	}

	r.tokens[ticker] = Token{Ticker: ticker, Asset: asset}
	r.order = append(r.order, ticker)
	return nil
}

// IsRegistered checks if a ticker is listed
func (r *Registry) IsRegistered(ticker Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tokens[ticker]
	return exists
}

// AssetRef returns the external asset behind a ticker
func (r *Registry) AssetRef(ticker Ticker) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, exists := r.tokens[ticker]
	if !exists {
		return common.Address{}, errors.Wrapf(ErrUnknownToken, "%s", ticker)
	}
	return tok.Asset, nil
}

// Settlement returns the pricing ticker
func (r *Registry) Settlement() Ticker {
	return r.settlement
}

// IsSettlement reports whether ticker is the pricing ticker
func (r *Registry) IsSettlement(ticker Ticker) bool {
	return ticker == r.settlement
}

// List returns all tokens in registration order
func (r *Registry) List() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]Token, 0, len(r.order))
	for _, t := range r.order {
		tokens = append(tokens, r.tokens[t])
	}
	return tokens
}
