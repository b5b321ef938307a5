package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/sealed"
)

func TestProcessReveal(t *testing.T) {
	km := closedKeyManager()
	auctionPub, err := km.PublicKey("auction-a", orderPhaseEnd)
	assert.NoError(t, err)

	type user struct {
		owner address.Identity
		keys  *sealed.KeyPair
		order sealed.Order
	}
	var users []user
	var req []enclaveapi.RevealUser
	for i := range 5 {
		kp, err := sealed.GenerateKeyPair(nil)
		assert.NoError(t, err)
		order, err := sealed.Seal(nil, sealed.Plaintext{Price: fp32.MustFromInt(uint64(10 + i)), Qty: 100}, auctionPub, kp)
		assert.NoError(t, err)
		u := user{owner: address.Identity{byte(i + 1)}, keys: kp, order: order}
		users = append(users, u)
		req = append(req, enclaveapi.RevealUser{Owner: u.owner.String(), PublicKey: kp.Public.String()})
	}
	req = append(req,
		enclaveapi.RevealUser{Owner: "zz", PublicKey: users[0].keys.Public.String()},
		enclaveapi.RevealUser{Owner: address.Identity{9}.String(), PublicKey: sealed.Key{}.String()},
		req[0],
	)

	resp := ProcessReveal(context.Background(), enclaveapi.RevealRequest{
		Type:      enclaveapi.TypeRevealRequest,
		AuctionID: "auction-a",
		Users:     req,
	}, km, "req-1")

	assert.True(t, resp.Success)
	assert.Equal(t, len(users), len(resp.Keys))
	for i, k := range resp.Keys {
		check.Equal(t, users[i].owner.String(), k.Owner)
		shared, err := sealed.ParseKey(k.SharedKey)
		assert.NoError(t, err)
		plain, err := sealed.OpenWithSharedKey(users[i].order, shared)
		check.NoError(t, err)
		check.Equal(t, fp32.MustFromInt(uint64(10+i)), plain.Price)
	}

	check.Equal(t, []enclaveapi.ExcludedUser{
		{Owner: "zz", Reason: "invalid_owner"},
		{Owner: address.Identity{9}.String(), Reason: "invalid_public_key"},
		{Owner: users[0].owner.String(), Reason: "duplicate_owner"},
	}, resp.Excluded)
}

func TestProcessReveal_BeforeOrderPhaseEnd(t *testing.T) {
	km := NewKeyManager()
	km.now = func() time.Time { return time.Unix(orderPhaseEnd-60, 0) }
	auctionPub, err := km.PublicKey("auction-a", orderPhaseEnd)
	assert.NoError(t, err)

	user, err := sealed.GenerateKeyPair(nil)
	assert.NoError(t, err)
	_, err = sealed.Seal(nil, sealed.Plaintext{Price: fp32.MustFromInt(10), Qty: 2000}, auctionPub, user)
	assert.NoError(t, err)

	resp := ProcessReveal(context.Background(), enclaveapi.RevealRequest{
		Type:      enclaveapi.TypeRevealRequest,
		AuctionID: "auction-a",
		Users:     []enclaveapi.RevealUser{{Owner: address.Identity{1}.String(), PublicKey: user.Public.String()}},
	}, km, "req")
	check.False(t, resp.Success)
	check.Equal(t, 0, len(resp.Keys))
	check.True(t, strings.Contains(resp.Message, "order phase still open"))
}

func TestProcessReveal_UnknownAuction(t *testing.T) {
	kp, err := sealed.GenerateKeyPair(nil)
	assert.NoError(t, err)
	resp := ProcessReveal(context.Background(), enclaveapi.RevealRequest{
		AuctionID: "never-keyed",
		Users:     []enclaveapi.RevealUser{{Owner: address.Identity{1}.String(), PublicKey: kp.Public.String()}},
	}, NewKeyManager(), "req")
	check.False(t, resp.Success)
	check.Equal(t, 0, len(resp.Keys))
}

func TestProcessReveal_NoUsers(t *testing.T) {
	resp := ProcessReveal(context.Background(), enclaveapi.RevealRequest{AuctionID: "a"}, NewKeyManager(), "req")
	check.False(t, resp.Success)
	check.Equal(t, "no users to reveal", resp.Message)
}
