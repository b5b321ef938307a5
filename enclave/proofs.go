package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/sealed"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// generateSecureRandomBytes reads from crypto/rand, which the NSM seeds inside an
// enclave.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// attest embeds userData as JSON in an NSM attestation under a fresh nonce.
func attest(attester EnclaveAttester, kind string, userData any) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s user data: %w", kind, err)
	}
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM %s attestation failed: %v", kind, err)
		return nil, fmt.Errorf("NSM %s attestation failed: %w", kind, err)
	}

	log.Printf("INFO: %s attestation generated: %d bytes", kind, len(attestationCBOR))
	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}

// GenerateKeyAttestation attests the public key of an auction and the end of the order
// phase before which no shared key is released.
func GenerateKeyAttestation(attester EnclaveAttester, auctionID string, pub sealed.Key, orderPhaseEnd int64) (enclaveapi.AttestationCOSE, error) {
	return attest(attester, "key", &enclaveapi.KeyAttestationUserData{
		KeyAlgorithm:  enclaveapi.KeyAlgorithm,
		AuctionID:     auctionID,
		PublicKey:     pub.String(),
		KeyHash:       core.ComputeKeyHash(auctionID, pub),
		OrderPhaseEnd: orderPhaseEnd,
	})
}

// GenerateClearingAttestation attests a clearing result together with the digest of the
// book it was computed from.
func GenerateClearingAttestation(
	attester EnclaveAttester,
	auctionID string,
	tick fp32.Fixed,
	result core.ClearingResult,
	bookDigest string,
) (enclaveapi.AttestationCOSE, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate clearing nonce: %w", err)
	}

	return attest(attester, "clearing", &enclaveapi.ClearingAttestationUserData{
		AuctionID:    auctionID,
		Price:        result.Price.String(),
		PriceRaw:     result.Price.Raw(),
		Matched:      result.Matched,
		TickSizeRaw:  tick.Raw(),
		BookDigest:   bookDigest,
		ClearingHash: core.ComputeClearingHash(auctionID, result.Price, result.Matched, bookDigest, nonce),
		Nonce:        nonce,
		Timestamp:    time.Now().UTC(),
	})
}
