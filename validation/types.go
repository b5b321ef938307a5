package validation

import (
	"crypto/x509"
	"fmt"
)

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) valid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid
}

func (r *BaseValidationResult) addDetail(format string, args ...any) {
	if len(args) == 0 {
		r.ValidationDetails = append(r.ValidationDetails, format)
		return
	}
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	AuctionIDMatch     bool
	PublicKeyMatch     bool
	KeyHashValid       bool
	OrderPhaseEndMatch bool

	// OrderPhaseEnd is the attested unix time before which no shared key is released.
	OrderPhaseEnd int64
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.valid() && r.AuctionIDMatch && r.PublicKeyMatch && r.KeyHashValid && r.OrderPhaseEndMatch
}

// ClearingValidationResult contains validation results specific to clearing attestations
type ClearingValidationResult struct {
	BaseValidationResult
	AuctionIDMatch    bool
	BookDigestValid   bool
	ClearingHashValid bool
	PriceValid        bool
}

// IsValid returns true if all clearing validation checks passed
func (r *ClearingValidationResult) IsValid() bool {
	return r.valid() && r.AuctionIDMatch && r.BookDigestValid && r.ClearingHashValid && r.PriceValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // repo commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}

// Config holds the trust anchors attestations are checked against.
type Config struct {
	PCRSets []PCRSet
	Roots   *x509.CertPool
}
