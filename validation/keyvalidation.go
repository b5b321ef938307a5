package validation

import (
	"fmt"
	"strings"

	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/sealed"
)

// ValidateKeyAttestation validates the attestation of an auction public key.
//
// Parameters:
//   - attestationCOSEBase64: KeyResponse.AttestationCOSEBase64
//   - auctionID: the auction the key is expected to belong to
//   - expectedPublicKey: hex public key to validate (from KeyResponse.PublicKey)
//   - orderPhaseEnd: the auction's order phase end in unix seconds, or 0 to only
//     require that the attestation carries one
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateKeyAttestation(cfg *Config, attestationCOSEBase64 enclaveapi.AttestationCOSEBase64, auctionID, expectedPublicKey string, orderPhaseEnd int64) (*KeyValidationResult, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, err
	}

	var userData enclaveapi.KeyAttestationUserData
	baseResult, err := validateCommonAttestation(cfg, coseBytes, &userData)
	if err != nil {
		return nil, err
	}
	result := &KeyValidationResult{BaseValidationResult: *baseResult}

	if userData.AuctionID == auctionID {
		result.AuctionIDMatch = true
		result.addDetail("Auction id matches attestation")
	} else {
		result.addDetail("Auction id mismatch: expected %q, attestation has %q", auctionID, userData.AuctionID)
	}

	expected, err := sealed.ParseKey(strings.TrimSpace(expectedPublicKey))
	if err != nil {
		return nil, fmt.Errorf("parse expected public key: %w", err)
	}
	attested, err := sealed.ParseKey(userData.PublicKey)
	switch {
	case err != nil:
		result.addDetail("Public key missing from attestation")
	case attested != expected:
		result.addDetail("Public key mismatch: provided key does not match attested key")
	default:
		result.PublicKeyMatch = true
		result.addDetail("Public key matches attestation")
	}

	if computed := core.ComputeKeyHash(auctionID, expected); computed == userData.KeyHash {
		result.KeyHashValid = true
		result.addDetail("Key hash validation passed: %s", computed)
	} else {
		result.addDetail("Key hash mismatch: computed %s, attestation has %s", computed, userData.KeyHash)
	}

	result.OrderPhaseEnd = userData.OrderPhaseEnd
	switch {
	case userData.OrderPhaseEnd <= 0:
		result.addDetail("Order phase end missing from attestation: shared keys are not time-locked")
	case orderPhaseEnd == 0:
		result.OrderPhaseEndMatch = true
		result.addDetail("Shared keys released after %d (not checked against the auction)", userData.OrderPhaseEnd)
	case orderPhaseEnd != userData.OrderPhaseEnd:
		result.addDetail("Order phase end mismatch: expected %d, attestation has %d", orderPhaseEnd, userData.OrderPhaseEnd)
	default:
		result.OrderPhaseEndMatch = true
		result.addDetail("Order phase end matches attestation: %d", orderPhaseEnd)
	}

	return result, nil
}
