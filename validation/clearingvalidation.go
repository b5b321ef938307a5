package validation

import (
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/slab"
)

// ClearingValidationInput contains all inputs needed for clearing attestation validation
type ClearingValidationInput struct {
	Attestation enclaveapi.AttestationCOSE
	AuctionID   string
	TickSize    fp32.Fixed
	// Bids and Asks are the aggregated book in the order it was submitted for clearing.
	Bids []slab.Level
	Asks []slab.Level
	// ClearingPrice is the price recorded on the auction; nil skips the comparison.
	ClearingPrice *fp32.Fixed
}

// ValidateClearingAttestation validates a clearing attestation and verifies:
// - the attestation is for the expected auction
// - the attested book digest matches the given book
// - the clearing hash binds the attested fields together
// - recomputing the clearing price over the book gives the attested price and quantity
// - the attested price matches the recorded price, when one is given
//
// Returns:
//   - ClearingValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateClearingAttestation(cfg *Config, input *ClearingValidationInput) (*ClearingValidationResult, error) {
	var userData enclaveapi.ClearingAttestationUserData
	baseResult, err := validateCommonAttestation(cfg, input.Attestation, &userData)
	if err != nil {
		return nil, err
	}
	result := &ClearingValidationResult{BaseValidationResult: *baseResult}

	if userData.AuctionID == input.AuctionID {
		result.AuctionIDMatch = true
		result.addDetail("Auction id matches attestation")
	} else {
		result.addDetail("Auction id mismatch: expected %q, attestation has %q", input.AuctionID, userData.AuctionID)
	}

	result.BookDigestValid = validateBookDigest(input, &userData, result)
	result.ClearingHashValid = validateClearingHash(&userData, result)
	result.PriceValid = validateClearingPrice(input, &userData, result)

	return result, nil
}

func validateBookDigest(input *ClearingValidationInput, userData *enclaveapi.ClearingAttestationUserData, result *ClearingValidationResult) bool {
	computed := core.ComputeBookDigest(input.Bids, input.Asks)
	if computed == userData.BookDigest {
		result.addDetail("Book digest validation passed: %s", computed)
		return true
	}
	result.addDetail("Book digest mismatch: computed %s, attestation has %s", computed, userData.BookDigest)
	return false
}

func validateClearingHash(userData *enclaveapi.ClearingAttestationUserData, result *ClearingValidationResult) bool {
	if userData.Nonce == "" {
		result.addDetail("Clearing nonce missing from attestation")
		return false
	}
	computed := core.ComputeClearingHash(userData.AuctionID, fp32.Fixed(userData.PriceRaw), userData.Matched, userData.BookDigest, userData.Nonce)
	if computed == userData.ClearingHash {
		result.addDetail("Clearing hash validation passed: %s", computed)
		return true
	}
	result.addDetail("Clearing hash mismatch: computed %s, attestation has %s", computed, userData.ClearingHash)
	return false
}

func validateClearingPrice(input *ClearingValidationInput, userData *enclaveapi.ClearingAttestationUserData, result *ClearingValidationResult) bool {
	attested := fp32.Fixed(userData.PriceRaw)
	ok := true

	if input.TickSize.Raw() != userData.TickSizeRaw {
		result.addDetail("Tick size mismatch: expected %s, attestation has %s", input.TickSize, fp32.Fixed(userData.TickSizeRaw))
		ok = false
	}

	recomputed, err := core.ComputeClearingPrice(input.Bids, input.Asks, input.TickSize)
	switch {
	case err != nil:
		result.addDetail("Clearing price could not be recomputed: %v", err)
		ok = false
	case recomputed.Price != attested || recomputed.Matched != userData.Matched:
		result.addDetail("Clearing result mismatch: recomputed %s x %d, attestation has %s x %d",
			recomputed.Price, recomputed.Matched, attested, userData.Matched)
		ok = false
	default:
		result.addDetail("Clearing price recomputed: %s x %d", recomputed.Price, recomputed.Matched)
	}

	if input.ClearingPrice != nil {
		if *input.ClearingPrice == attested {
			result.addDetail("Recorded clearing price matches attestation: %s", attested)
		} else {
			result.addDetail("Recorded clearing price mismatch: expected %s, attestation has %s", *input.ClearingPrice, attested)
			ok = false
		}
	}
	return ok
}
