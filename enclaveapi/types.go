// Package enclaveapi defines the messages exchanged with the decryption agent and the
// attestation documents it produces.
//
// The agent holds the auction encryption keys. It hands out public keys bound to an
// attestation, releases per-user shared keys once the decryption phase opens, and can
// compute and attest a clearing price over an aggregated book.
package enclaveapi

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"
)

// Request and response type tags.
const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypeError            = "error"
	TypeKeyRequest       = "key_request"
	TypeKeyResponse      = "key_response"
	TypeRevealRequest    = "reveal_request"
	TypeRevealResponse   = "reveal_response"
	TypeClearingRequest  = "clearing_request"
	TypeClearingResponse = "clearing_response"
	TypeForgetRequest    = "forget_request"
	TypeForgetResponse   = "forget_response"
)

// KeyAlgorithm names the sealing scheme of auction keys.
const KeyAlgorithm = "X25519-XSalsa20-Poly1305"

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the base structured attestation data from AWS Nitro Enclaves
// This contains the common fields shared by all attestation types
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	// Certificate and CABundle are base64 DER.
	Certificate string   `json:"certificate"`
	CABundle    []string `json:"cabundle"`
	PublicKey   string   `json:"public_key"`
	Nonce       string   `json:"nonce"`
}

// URLEncode encodes attestation for URLs
func (a *AttestationDoc) URLEncode() string {
	data, _ := json.Marshal(a)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data))
}

// KeyAttestationUserData is embedded in the attestation of an auction public key.
type KeyAttestationUserData struct {
	KeyAlgorithm  string `json:"key_algorithm"`
	AuctionID     string `json:"auction_id"`
	PublicKey     string `json:"public_key"` // hex
	KeyHash       string `json:"key_hash"`
	OrderPhaseEnd int64  `json:"order_phase_end"` // no shared key is released before this unix time
}

// KeyAttestationDoc represents attestation specifically for key distribution
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// ClearingAttestationUserData is embedded in the attestation of a clearing result.
// Prices are raw Q32.32 values; Price repeats them as decimals for humans.
type ClearingAttestationUserData struct {
	AuctionID    string    `json:"auction_id"`
	Price        string    `json:"price"`
	PriceRaw     uint64    `json:"price_raw"`
	Matched      uint64    `json:"matched"`
	TickSizeRaw  uint64    `json:"tick_size_raw"`
	BookDigest   string    `json:"book_digest"`
	ClearingHash string    `json:"clearing_hash"`
	Nonce        string    `json:"nonce"`
	Timestamp    time.Time `json:"timestamp"`
}

// ClearingAttestationDoc represents attestation of a clearing price.
type ClearingAttestationDoc struct {
	AttestationDoc
	UserData *ClearingAttestationUserData `json:"user_data"`
}

// KeyRequest asks for the public key of an auction, creating it on first use. The
// first request fixes OrderPhaseEnd (unix seconds) for the life of the key.
type KeyRequest struct {
	Type          string `json:"type"`
	AuctionID     string `json:"auction_id"`
	OrderPhaseEnd int64  `json:"order_phase_end"`
}

// KeyResponse represents the response from a key request to the TEE enclave
type KeyResponse struct {
	Type                  string                `json:"type"`
	RequestID             string                `json:"request_id"`
	AuctionID             string                `json:"auction_id"`
	PublicKey             string                `json:"public_key"` // hex
	OrderPhaseEnd         int64                 `json:"order_phase_end"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64"`
}

// RevealUser names a user whose sealed orders should be opened.
type RevealUser struct {
	Owner     string `json:"owner"`      // hex identity
	PublicKey string `json:"public_key"` // hex, the user's encryption key
}

// RevealRequest asks for the shared keys of users in an auction.
type RevealRequest struct {
	Type      string       `json:"type"`
	AuctionID string       `json:"auction_id"`
	Users     []RevealUser `json:"users"`
}

// SharedKey is the precomputed key that opens one user's sealed orders.
type SharedKey struct {
	Owner     string `json:"owner"`
	SharedKey string `json:"shared_key"` // hex
}

// ExcludedUser is a user no shared key was produced for.
type ExcludedUser struct {
	Owner  string `json:"owner"`
	Reason string `json:"reason"`
}

// RevealResponse carries the shared keys of a reveal request.
type RevealResponse struct {
	Type           string         `json:"type"`
	RequestID      string         `json:"request_id"`
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	Keys           []SharedKey    `json:"keys,omitempty"`
	Excluded       []ExcludedUser `json:"excluded,omitempty"`
	ProcessingTime int64          `json:"processing_time_ms"`
}

// Level is one aggregated price level of a book side.
type Level struct {
	PriceRaw uint64 `json:"price"`
	Qty      uint64 `json:"qty"`
}

// ClearingRequest asks the agent to compute and attest the clearing price of a book.
// Levels are listed in priority order: bids descending, asks ascending.
type ClearingRequest struct {
	Type        string  `json:"type"`
	AuctionID   string  `json:"auction_id"`
	TickSizeRaw uint64  `json:"tick_size"`
	Bids        []Level `json:"bids"`
	Asks        []Level `json:"asks"`
}

// ClearingResponse reports an attested clearing price.
type ClearingResponse struct {
	Type                  string                `json:"type"`
	RequestID             string                `json:"request_id"`
	Success               bool                  `json:"success"`
	Message               string                `json:"message"`
	PriceRaw              uint64                `json:"price_raw"`
	Price                 string                `json:"price"`
	Matched               uint64                `json:"matched"`
	BookDigest            string                `json:"book_digest"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
	ProcessingTime        int64                 `json:"processing_time_ms"`
}

// ForgetRequest drops the key of a finished auction.
type ForgetRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
}

// ErrorResponse is returned for malformed or failed requests.
type ErrorResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}
