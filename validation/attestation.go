package validation

import (
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/batchauction/enclaveapi"
)

// validateCommonAttestation validates PCRs, the certificate chain and the COSE signature
// of an attestation, and decodes its user data into userData.
func validateCommonAttestation(cfg *Config, coseBytes enclaveapi.AttestationCOSE, userData any) (*BaseValidationResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("validation config is nil")
	}

	attestationDoc, userDataBytes, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}
	if len(userDataBytes) == 0 {
		return nil, fmt.Errorf("attestation carries no user data")
	}
	if err := json.Unmarshal(userDataBytes, userData); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, cfg.PCRSets)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.addDetail("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash)
		result.addDetail("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash)
		result.addDetail("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash)
	} else {
		result.addDetail("PCR measurements valid")
		result.addDetail("Matched PCR set: #%d (commit: %s)", matchedSet, cfg.PCRSets[matchedSet].CommitHash)
	}

	switch {
	case attestationDoc.Certificate == "":
		result.addDetail("Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.addDetail("Missing CA bundle")
	default:
		err = ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp, cfg.Roots)
		if err != nil {
			result.addDetail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.addDetail("Certificate chain verified")
		}
	}

	if attestationDoc.Certificate == "" {
		result.addDetail("COSE signature not checked: no certificate")
	} else if err := VerifyCOSESignature(coseBytes, attestationDoc.Certificate); err != nil {
		result.addDetail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.addDetail("COSE signature verified")
	}

	return result, nil
}
