package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	enclaveapi "github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/slab"
	"github.com/cloudx-io/batchauction/validation"
)

func main() {
	var (
		requestInput  = flag.String("request", "", "Clearing request JSON (file path or inline JSON)")
		responseInput = flag.String("response", "", "Clearing response JSON (file path or inline JSON)")
		priceInput    = flag.String("price", "", "Clearing price recorded on the auction, as a decimal (optional)")
		pcrPath       = flag.String("pcrs", validation.DefaultPCRConfigPath(), "Path to the known PCR sets")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *requestInput == "" || *responseInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --request and --response are required\n")
		os.Exit(1)
	}

	var request enclaveapi.ClearingRequest
	if err := readJSONInput(*requestInput, &request); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading clearing request: %v\n", err)
		os.Exit(2)
	}

	var response enclaveapi.ClearingResponse
	if err := readJSONInput(*responseInput, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading clearing response: %v\n", err)
		os.Exit(2)
	}

	input, err := extractValidationInput(&request, &response, *priceInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting validation data: %v\n", err)
		os.Exit(2)
	}

	cfg, err := validation.LoadConfig(*pcrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCR config: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateClearingAttestation(cfg, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Clearing Attestation Validator")
	fmt.Println()
	fmt.Println("Recomputes the clearing price of a revealed book and checks it against the")
	fmt.Println("attestation returned by the decryption agent.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clearing-validator --request <json> --response <json> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --request <json>                  Clearing request sent to the agent (the book)")
	fmt.Println("  --response <json>                 Clearing response returned by the agent")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --price <decimal>                 Clearing price recorded on the auction")
	fmt.Println("  --pcrs <path>                     Known PCR sets (default: validation/pcrs.json)")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Clearing Request:")
	fmt.Println("  {")
	fmt.Println("    \"type\": \"clearing_request\",")
	fmt.Println("    \"auction_id\": \"auction-123\",")
	fmt.Println("    \"tick_size\": 2147483648,                 // raw Q32.32")
	fmt.Println("    \"bids\": [{\"price\": 42949672960, \"qty\": 100}],")
	fmt.Println("    \"asks\": [{\"price\": 38654705664, \"qty\": 150}]")
	fmt.Println("  }")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  clearing-validator --request request.json --response response.json --price 9.5")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string, v any) error {
	data, err := os.ReadFile(input)
	if err != nil {
		// Treat as inline JSON
		data = []byte(input)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

func toLevels(levels []enclaveapi.Level) []slab.Level {
	out := make([]slab.Level, len(levels))
	for i, l := range levels {
		out[i] = slab.Level{Price: fp32.Fixed(l.PriceRaw), Qty: l.Qty}
	}
	return out
}

func extractValidationInput(request *enclaveapi.ClearingRequest, response *enclaveapi.ClearingResponse, price string) (*validation.ClearingValidationInput, error) {
	if !response.Success {
		return nil, fmt.Errorf("clearing response reports failure: %s", response.Message)
	}
	if response.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 in clearing response")
	}
	attestation, err := response.AttestationCOSEBase64.Decode()
	if err != nil {
		return nil, err
	}

	input := &validation.ClearingValidationInput{
		Attestation: attestation,
		AuctionID:   request.AuctionID,
		TickSize:    fp32.Fixed(request.TickSizeRaw),
		Bids:        toLevels(request.Bids),
		Asks:        toLevels(request.Asks),
	}
	if price != "" {
		p, err := fp32.Parse(price)
		if err != nil {
			return nil, fmt.Errorf("parse --price: %w", err)
		}
		input.ClearingPrice = &p
	}
	return input, nil
}

func outputText(result *validation.ClearingValidationResult) {
	fmt.Println("Clearing Attestation Validator")
	fmt.Println("==============================")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Auction ID Match:        %v\n", result.AuctionIDMatch)
	fmt.Printf("  Book Digest Valid:       %v\n", result.BookDigestValid)
	fmt.Printf("  Clearing Hash Valid:     %v\n", result.ClearingHashValid)
	fmt.Printf("  Price Valid:             %v\n", result.PriceValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("==============================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
		fmt.Println("Exit Code: 0")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
		fmt.Println("Exit Code: 1")
	}
}

func outputJSON(result *validation.ClearingValidationResult) {
	output := map[string]any{
		"valid":               result.IsValid(),
		"pcrs_valid":          result.PCRsValid,
		"certificate_valid":   result.CertificateValid,
		"signature_valid":     result.SignatureValid,
		"auction_id_match":    result.AuctionIDMatch,
		"book_digest_valid":   result.BookDigestValid,
		"clearing_hash_valid": result.ClearingHashValid,
		"price_valid":         result.PriceValid,
		"details":             result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
