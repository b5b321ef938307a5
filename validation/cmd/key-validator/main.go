package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	enclaveapi "github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/validation"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	// Define CLI flags
	var (
		attestationPath = flag.String("attestation", "", "Path to key response JSON file (required)")
		auctionID       = flag.String("auction-id", "", "Auction the key must belong to (required)")
		publicKeyInput  = flag.String("public-key", "", "Expected public key: hex string or path to a file holding one (defaults to the key in the response)")
		orderPhaseEnd   = flag.Int64("order-phase-end", 0, "Order phase end of the auction in unix seconds")
		pcrPath         = flag.String("pcrs", validation.DefaultPCRConfigPath(), "Path to the known PCR sets")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	// Show help
	if *help || *attestationPath == "" || *auctionID == "" {
		showUsage()
		if *attestationPath == "" || *auctionID == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Read key response file
	keyResponse, err := readKeyResponse(*attestationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading attestation: %v\n", err)
		os.Exit(2)
	}

	publicKey := keyResponse.PublicKey
	if *publicKeyInput != "" {
		publicKey, err = readPublicKey(*publicKeyInput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
			os.Exit(2)
		}
	} else {
		logger.Warn("No --public-key given: checking the key in the response against its own attestation")
	}

	if *orderPhaseEnd == 0 {
		logger.Warn("No --order-phase-end given: the attested reveal time is reported but not checked")
	}

	cfg, err := validation.LoadConfig(*pcrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCR config: %v\n", err)
		os.Exit(2)
	}

	// Validate using library
	result, err := validation.ValidateKeyAttestation(cfg, keyResponse.AttestationCOSEBase64, *auctionID, publicKey, *orderPhaseEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	// Output results
	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	// Exit with appropriate code
	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Auction Key Attestation Validator")
	logger.Info("")
	logger.Info("Validates the attested X25519 key an auction's sealed orders are encrypted to.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --attestation <path> --auction-id <id> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --attestation <path>              Path to key response JSON file")
	logger.Info("  --auction-id <id>                 Auction the key must belong to")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --public-key <hex|path>           Expected key, e.g. the one recorded on the auction")
	logger.Info("  --order-phase-end <unix>          Order phase end recorded on the auction")
	logger.Info("  --pcrs <path>                     Known PCR sets (default: validation/pcrs.json)")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  # Validate key attestation")
	logger.Info("  key-validator --attestation response.json --auction-id auction-123 --public-key 5f2c... --order-phase-end 1767225600")
	logger.Info("")
	logger.Info("  # JSON output")
	logger.Info("  key-validator --attestation response.json --auction-id auction-123 --format json")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
	logger.Info("")
	logger.Info("Library Usage:")
	logger.Info("  This CLI tool is an example. For programmatic use, import:")
	logger.Info("  github.com/cloudx-io/batchauction/validation")
}

func readKeyResponse(path string) (*enclaveapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var keyResponse enclaveapi.KeyResponse
	if err := json.Unmarshal(data, &keyResponse); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if keyResponse.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in key response")
	}

	return &keyResponse, nil
}

func readPublicKey(input string) (string, error) {
	data, err := os.ReadFile(input)
	if errors.Is(err, fs.ErrNotExist) {
		return input, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func outputText(result *validation.KeyValidationResult) {
	logger.Info("Auction Key Attestation Validator")
	logger.Info("=================================")
	logger.Info("")

	logger.Info("Validation Results:")
	logger.Info("-------------------")

	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:        %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid: %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Auction ID Match:  %v", result.AuctionIDMatch))
	logger.Info(fmt.Sprintf("  Public Key Match:  %v", result.PublicKeyMatch))
	logger.Info(fmt.Sprintf("  Key Hash Valid:    %v", result.KeyHashValid))
	logger.Info(fmt.Sprintf("  Reveal Time Match: %v (%d)", result.OrderPhaseEndMatch, result.OrderPhaseEnd))

	logger.Info("")
	logger.Info("Details:")
	for _, detail := range result.ValidationDetails {
		logger.Info("  - " + detail)
	}

	logger.Info("")
	logger.Info("=================================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(result *validation.KeyValidationResult) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"auction_id_match":  result.AuctionIDMatch,
		"public_key_match":  result.PublicKeyMatch,
		"key_hash_valid":    result.KeyHashValid,
		"order_phase_end":   result.OrderPhaseEnd,
		"order_phase_match": result.OrderPhaseEndMatch,
		"details":           result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
