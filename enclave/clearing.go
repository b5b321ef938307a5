package main

import (
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/slab"
)

// toLevels converts wire levels, rejecting prices off the tick and empty levels.
func toLevels(side string, levels []enclaveapi.Level, tick fp32.Fixed) ([]slab.Level, error) {
	out := make([]slab.Level, 0, len(levels))
	for i, l := range levels {
		price := fp32.Fixed(l.PriceRaw)
		if !price.IsMultipleOf(tick) {
			return nil, fmt.Errorf("%s level %d: price %s is not a multiple of tick %s", side, i, price, tick)
		}
		if l.Qty == 0 {
			return nil, fmt.Errorf("%s level %d: zero quantity", side, i)
		}
		out = append(out, slab.Level{Price: price, Qty: l.Qty})
	}
	return out, nil
}

// ProcessClearing computes the clearing price of an aggregated book and attests it.
func ProcessClearing(attester EnclaveAttester, req enclaveapi.ClearingRequest, requestID string) enclaveapi.ClearingResponse {
	startTime := time.Now()
	log.Printf("INFO: Processing clearing for auction %s: %d bid levels, %d ask levels",
		req.AuctionID, len(req.Bids), len(req.Asks))

	fail := func(err error) enclaveapi.ClearingResponse {
		log.Printf("ERROR: Clearing for auction %s failed: %v", req.AuctionID, err)
		return enclaveapi.ClearingResponse{
			Type:           enclaveapi.TypeClearingResponse,
			RequestID:      requestID,
			Message:        fmt.Sprintf("Clearing failed: %v", err),
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}

	tick := fp32.Fixed(req.TickSizeRaw)
	if tick == 0 {
		return fail(fmt.Errorf("tick size must be positive"))
	}
	bids, err := toLevels("bid", req.Bids, tick)
	if err != nil {
		return fail(err)
	}
	asks, err := toLevels("ask", req.Asks, tick)
	if err != nil {
		return fail(err)
	}

	result, err := core.ComputeClearingPrice(bids, asks, tick)
	if err != nil {
		return fail(err)
	}
	digest := core.ComputeBookDigest(bids, asks)

	attestation, err := GenerateClearingAttestation(attester, req.AuctionID, tick, result, digest)
	if err != nil {
		return fail(err)
	}

	processingTime := time.Since(startTime).Milliseconds()
	log.Printf("INFO: Clearing complete for auction %s: price=%s matched=%d processing=%dms",
		req.AuctionID, result.Price, result.Matched, processingTime)

	return enclaveapi.ClearingResponse{
		Type:                  enclaveapi.TypeClearingResponse,
		RequestID:             requestID,
		Success:               true,
		Message:               fmt.Sprintf("Cleared %d units", result.Matched),
		PriceRaw:              result.Price.Raw(),
		Price:                 result.Price.String(),
		Matched:               result.Matched,
		BookDigest:            digest,
		AttestationCOSEBase64: attestation.EncodeBase64(),
		ProcessingTime:        processingTime,
	}
}
