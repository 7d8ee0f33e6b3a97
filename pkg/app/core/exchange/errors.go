package exchange

import (
	"github.com/cockroachdb/errors"

	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// Errors from the component packages, re-exported so callers need one import
var (
	ErrDuplicateToken      = token.ErrDuplicateToken
	ErrUnknownToken        = token.ErrUnknownToken
	ErrInvalidTicker       = token.ErrInvalidTicker
	ErrInvalidAmount       = ledger.ErrInvalidAmount
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrOrderNotFound       = orderbook.ErrOrderNotFound
	ErrInvalidSide         = orderbook.ErrInvalidSide
)

var (
	ErrCannotTradeSettlementToken    = errors.New("cannot trade settlement token")
	ErrInsufficientAssetBalance      = errors.New("insufficient asset balance")
	ErrInsufficientSettlementBalance = errors.New("insufficient settlement balance")
	ErrNotOrderOwner                 = errors.New("not order owner")
	ErrInvalidPrice                  = errors.New("invalid price")
	ErrCustody                       = errors.New("custody transfer failed")
)
