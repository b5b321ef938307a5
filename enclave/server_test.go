package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/sealed"
)

func testServer(t *testing.T) *EnclaveServer {
	t.Helper()
	s := NewEnclaveServer(0)
	s.newAttester = func() (EnclaveAttester, error) { return CreateMockEnclave(t), nil }
	s.keyManager.now = func() time.Time { return time.Unix(orderPhaseEnd, 0) }
	return s
}

// roundTrip sends req through the dispatcher and decodes the JSON reply into resp.
func roundTrip(t *testing.T, s *EnclaveServer, req, resp any) {
	t.Helper()
	raw, err := json.Marshal(req)
	assert.NoError(t, err)
	out, err := json.Marshal(s.handleRequest(context.Background(), raw))
	assert.NoError(t, err)
	assert.NoError(t, json.Unmarshal(out, resp))
}

func TestServerKeyThenReveal(t *testing.T) {
	s := testServer(t)

	var keyResp enclaveapi.KeyResponse
	roundTrip(t, s, enclaveapi.KeyRequest{Type: enclaveapi.TypeKeyRequest, AuctionID: "auction-a", OrderPhaseEnd: orderPhaseEnd}, &keyResp)
	check.Equal(t, enclaveapi.TypeKeyResponse, keyResp.Type)
	check.NotEqual(t, "", keyResp.RequestID)
	auctionPub, err := sealed.ParseKey(keyResp.PublicKey)
	assert.NoError(t, err)

	user, err := sealed.GenerateKeyPair(nil)
	assert.NoError(t, err)
	order, err := sealed.Seal(nil, sealed.Plaintext{Price: fp32.MustFromInt(7), Qty: 40}, auctionPub, user)
	assert.NoError(t, err)

	var revealResp enclaveapi.RevealResponse
	roundTrip(t, s, enclaveapi.RevealRequest{
		Type:      enclaveapi.TypeRevealRequest,
		AuctionID: "auction-a",
		Users:     []enclaveapi.RevealUser{{Owner: address.Identity{1}.String(), PublicKey: user.Public.String()}},
	}, &revealResp)
	assert.True(t, revealResp.Success)
	assert.Equal(t, 1, len(revealResp.Keys))

	shared, err := sealed.ParseKey(revealResp.Keys[0].SharedKey)
	assert.NoError(t, err)
	plain, err := sealed.OpenWithSharedKey(order, shared)
	assert.NoError(t, err)
	check.Equal(t, uint64(40), plain.Qty)

	var forget map[string]any
	roundTrip(t, s, enclaveapi.ForgetRequest{Type: enclaveapi.TypeForgetRequest, AuctionID: "auction-a"}, &forget)
	check.Equal(t, true, forget["forgotten"])
	check.Equal(t, 0, s.keyManager.Len())
}

func TestServerClearing(t *testing.T) {
	var resp enclaveapi.ClearingResponse
	roundTrip(t, testServer(t), enclaveapi.ClearingRequest{
		Type:        enclaveapi.TypeClearingRequest,
		AuctionID:   "auction-a",
		TickSizeRaw: fp32.MustFromInt(1).Raw(),
		Bids:        []enclaveapi.Level{level(10, 5)},
		Asks:        []enclaveapi.Level{level(8, 5)},
	}, &resp)
	check.True(t, resp.Success)
	check.Equal(t, uint64(5), resp.Matched)
	check.Equal(t, "9", resp.Price)
}

func TestServerErrors(t *testing.T) {
	s := testServer(t)

	var resp enclaveapi.ErrorResponse
	roundTrip(t, s, map[string]string{"type": "bogus"}, &resp)
	check.Equal(t, enclaveapi.TypeError, resp.Type)
	check.Equal(t, "Unknown request type: bogus", resp.Message)

	out := s.handleRequest(context.Background(), []byte("{not json"))
	errResp, ok := out.(enclaveapi.ErrorResponse)
	check.True(t, ok)
	check.Equal(t, enclaveapi.TypeError, errResp.Type)

	s.newAttester = func() (EnclaveAttester, error) { return nil, errors.New("NSM not available") }
	roundTrip(t, s, enclaveapi.KeyRequest{Type: enclaveapi.TypeKeyRequest, AuctionID: "a", OrderPhaseEnd: orderPhaseEnd}, &resp)
	check.Equal(t, "Failed to initialize TEE attester: NSM not available", resp.Message)

	var pong map[string]any
	roundTrip(t, s, map[string]string{"type": enclaveapi.TypePing}, &pong)
	check.Equal(t, enclaveapi.TypePong, pong["type"])
}

func TestGetRequiredEnvInt(t *testing.T) {
	t.Setenv("ENCLAVE_TEST_INT", "12")
	v, err := getRequiredEnvInt("ENCLAVE_TEST_INT")
	check.NoError(t, err)
	check.Equal(t, 12, v)

	t.Setenv("ENCLAVE_TEST_INT", "twelve")
	_, err = getRequiredEnvInt("ENCLAVE_TEST_INT")
	check.Error(t, err)

	v, err = getEnvInt("ENCLAVE_TEST_UNSET", 5000)
	check.NoError(t, err)
	check.Equal(t, 5000, v)
}
