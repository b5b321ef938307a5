// Package auctionerr defines the coded errors returned by every auction operation.
//
// Each error carries a stable numeric code, a name and a Kind so that callers can tell
// retryable user errors apart from invariant violations without string matching.
package auctionerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how a caller is expected to react to it.
type Kind uint8

const (
	// Validation errors reject malformed input before any state is touched.
	Validation Kind = iota + 1
	// State errors report a phase or capacity condition. Nothing was mutated.
	State
	// Crypto errors report authentication failures on sealed orders.
	Crypto
	// Invariant errors signal corrupted state or a bug and abort the operation.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case State:
		return "state"
	case Crypto:
		return "crypto"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a coded auction error. Sentinels are compared with errors.Is.
type Error struct {
	Code uint32
	Name string
	Msg  string
	Kind Kind
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

// Is matches on the code so that copies of a sentinel compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(code uint32, name string, kind Kind, msg string) *Error {
	e := &Error{Code: code, Name: name, Msg: msg, Kind: kind}
	byCode[code] = e
	return e
}

var byCode = map[uint32]*Error{}

// FromCode returns the sentinel registered for code.
func FromCode(code uint32) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

// KindOf reports the kind of the first coded error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err is an invariant violation.
func IsFatal(err error) bool {
	return KindOf(err) == Invariant
}

// CodeOf returns the code of the first coded error in err's chain, or 0.
func CodeOf(err error) uint32 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

var (
	ErrNotImplemented            = newErr(6000, "NotImplemented", State, "not implemented")
	ErrInvalidEndTimes           = newErr(6001, "InvalidEndTimes", Validation, "order phase end must be after start and before decryption end")
	ErrInvalidStartTimes         = newErr(6002, "InvalidStartTimes", Validation, "order phase start must be before order phase end")
	ErrInvalidDecryptionEndTime  = newErr(6003, "InvalidDecryptionEndTime", Validation, "decryption phase end must be after order phase end")
	ErrInvalidMinBaseOrderSize   = newErr(6004, "InvalidMinBaseOrderSize", Validation, "min base order size must be positive")
	ErrInvalidTickSize           = newErr(6005, "InvalidTickSize", Validation, "tick size must be positive")
	ErrNoAskOrders               = newErr(6006, "NoAskOrders", State, "no ask orders in the book")
	ErrNoBidOrders               = newErr(6007, "NoBidOrders", State, "no bid orders in the book")
	ErrNoOrdersInOrderbook       = newErr(6008, "NoOrdersInOrderbook", State, "order book is empty")
	ErrCalcClearingPricePhase    = newErr(6009, "CalcClearingPricePhaseNotActive", State, "clearing price calculation phase is not active")
	ErrClearingPriceAlreadyFound = newErr(6010, "ClearingPriceAlreadyFound", State, "clearing price already computed")
	ErrNoClearingPriceYet        = newErr(6011, "NoClearingPriceYet", State, "clearing price not yet computed")
	ErrMatchOrdersPhaseNotActive = newErr(6012, "MatchOrdersPhaseNotActive", State, "no quantity left to match")
	ErrAuctionNotFinished        = newErr(6013, "AuctionNotFinished", State, "auction has no clearing price yet")
	ErrEventQueueFull            = newErr(6014, "AobEventQueueFull", State, "event queue is full")
	ErrNoEventsProcessed         = newErr(6015, "NoEventsProcessed", State, "no events to process")
	ErrMissingOpenOrders         = newErr(6016, "MissingOpenOrdersPubkeyInRemainingAccounts", Invariant, "open orders account for event owner not found")
	ErrUserSideDiffFromEventSide = newErr(6017, "UserSideDiffFromEventSide", Invariant, "event side differs from account side")
	ErrOrderIDNotFound           = newErr(6018, "OrderIdNotFound", Validation, "order id not found")
	ErrOrderIdxNotValid          = newErr(6019, "OrderIdxNotValid", Validation, "sealed order index out of range")
	ErrOrderPhaseNotStarted      = newErr(6020, "OrderPhaseHasNotStarted", State, "order phase has not started")
	ErrOrderPhaseIsOver          = newErr(6021, "OrderPhaseIsOver", State, "order phase is over")
	ErrOrderPhaseNotActive       = newErr(6022, "OrderPhaseNotActive", State, "order phase is not active")
	ErrDecryptionPhaseNotStarted = newErr(6023, "DecryptionPhaseHasNotStarted", State, "decryption phase has not started")
	ErrDecryptionPhaseEnded      = newErr(6024, "DecryptionPhaseHasEnded", State, "decryption phase has ended")
	ErrDecryptionPhaseNotActive  = newErr(6025, "DecryptionPhaseNotActive", State, "decryption phase is not active")
	ErrMaxOrdersValueIsInvalid   = newErr(6026, "MaxOrdersValueIsInvalid", Validation, "max orders must be between 1 and 8")
	ErrEncryptedOrdersOnly       = newErr(6027, "EncryptedOrdersOnlyOnThisSide", Validation, "only sealed orders are accepted on this side")
	ErrUnencryptedOrdersOnly     = newErr(6028, "UnencryptedOrdersOnlyOnThisSide", Validation, "only plain orders are accepted on this side")
	ErrLimitPriceNotTickMultiple = newErr(6029, "LimitPriceNotAMultipleOfTickSize", Validation, "limit price is not a positive multiple of the tick size")
	ErrOrderBelowMinSize         = newErr(6030, "OrderBelowMinBaseOrderSize", Validation, "order quantity below the minimum base order size")
	ErrTooManyOrders             = newErr(6031, "TooManyOrders", State, "open orders account is full")
	ErrEncryptionPubkeysMismatch = newErr(6032, "EncryptionPubkeysDoNotMatch", Validation, "sealed order key differs from the account key")
	ErrIdenticalEncryptedOrder   = newErr(6033, "IdenticalEncryptedOrderFound", Validation, "identical sealed order already submitted")
	ErrInsufficientTokens        = newErr(6034, "InsufficientTokensForOrder", Validation, "deposit does not cover the order")
	ErrInvalidSharedKey          = newErr(6035, "InvalidSharedKey", Crypto, "sealed order failed authentication")
	ErrNodeKeyNotFound           = newErr(6036, "NodeKeyNotFound", Invariant, "slab node key not found")
	ErrOpenOrdersHasOpenOrders   = newErr(6037, "OpenOrdersHasOpenOrders", State, "open orders account still has orders")
	ErrOpenOrdersHasLockedTokens = newErr(6038, "OpenOrdersHasLockedTokens", State, "open orders account still has locked tokens")
	ErrOrderBookNotEmpty         = newErr(6039, "OrderBookNotEmpty", State, "order book is not empty")
	ErrEventQueueNotEmpty        = newErr(6040, "EventQueueNotEmpty", State, "event queue is not empty")
	ErrNumericalOverflow         = newErr(6041, "NumericalOverflow", Invariant, "numerical overflow")
	ErrSlabIteratorOverflow      = newErr(6042, "SlabIteratorOverflow", State, "slab traversal exceeded its depth bound")
	ErrIncompatibleMintDecimals  = newErr(6043, "IncompatibleMintDecimals", Validation, "base and quote decimals differ")

	ErrSlabFull              = newErr(6044, "SlabFull", State, "order book side is at capacity")
	ErrNoViableBump          = newErr(6045, "NoViableBump", Invariant, "no off-curve derived address within the bump range")
	ErrAuctionNotFound       = newErr(6046, "AuctionNotFound", Validation, "auction not initialized")
	ErrOpenOrdersNotFound    = newErr(6047, "OpenOrdersNotFound", Validation, "open orders account not initialized")
	ErrAlreadyInitialized    = newErr(6048, "AlreadyInitialized", State, "account already initialized")
	ErrSettlementNotActive   = newErr(6049, "SettlementNotActive", State, "settlement phase is not active")
	ErrVaultNotEmpty         = newErr(6050, "VaultNotEmpty", State, "auction vault still holds tokens")
	ErrCorruptRecord         = newErr(6051, "CorruptRecord", Invariant, "persisted record failed to decode")
	ErrInvalidAuctionID      = newErr(6052, "InvalidAuctionId", Validation, "auction id must be 1 to 32 bytes")
	ErrDuplicateOrderKey     = newErr(6053, "DuplicateOrderKey", Invariant, "order key already present in the book")
	ErrMissingEncryptionKey  = newErr(6054, "MissingEncryptionKey", Validation, "sealed side requires an encryption public key")
	ErrNoSealedOrdersPending = newErr(6055, "NoSealedOrdersPending", State, "account has no sealed orders to decrypt")
)
