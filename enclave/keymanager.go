package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/sealed"
)

var (
	errUnknownAuction  = errors.New("no key for auction")
	errOrderPhaseOpen  = errors.New("order phase still open")
	errScheduleChanged = errors.New("order phase end differs from the keyed schedule")
)

// auctionKey is the key pair of one auction and the time its order phase closes.
type auctionKey struct {
	pair          *sealed.KeyPair
	orderPhaseEnd int64 // unix seconds
}

// KeyManager holds one encryption key pair per auction. Secret keys never leave the
// manager; callers only get public keys, and per-user shared keys once the auction's
// order phase has closed by the enclave's own clock.
type KeyManager struct {
	mu   sync.RWMutex
	keys map[string]*auctionKey
	rand io.Reader        // nil means crypto/rand
	now  func() time.Time // nil means time.Now
}

func NewKeyManager() *KeyManager {
	return &KeyManager{keys: make(map[string]*auctionKey)}
}

func (km *KeyManager) clock() int64 {
	if km.now == nil {
		return time.Now().Unix()
	}
	return km.now().Unix()
}

// PublicKey returns the public key of an auction whose order phase ends at
// orderPhaseEnd, generating its key pair on first use. The schedule is fixed by the
// first request; later requests must repeat it.
func (km *KeyManager) PublicKey(auctionID string, orderPhaseEnd int64) (sealed.Key, error) {
	if auctionID == "" {
		return sealed.Key{}, fmt.Errorf("auction id is empty")
	}
	if orderPhaseEnd <= 0 {
		return sealed.Key{}, fmt.Errorf("auction %q: order phase end is required", auctionID)
	}
	km.mu.RLock()
	ak, ok := km.keys[auctionID]
	km.mu.RUnlock()
	if ok {
		return ak.publicFor(auctionID, orderPhaseEnd)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	if ak, ok := km.keys[auctionID]; ok {
		return ak.publicFor(auctionID, orderPhaseEnd)
	}
	kp, err := sealed.GenerateKeyPair(km.rand)
	if err != nil {
		return sealed.Key{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	km.keys[auctionID] = &auctionKey{pair: kp, orderPhaseEnd: orderPhaseEnd}
	return kp.Public, nil
}

func (ak *auctionKey) publicFor(auctionID string, orderPhaseEnd int64) (sealed.Key, error) {
	if ak.orderPhaseEnd != orderPhaseEnd {
		return sealed.Key{}, fmt.Errorf("auction %q keyed until %d, requested %d: %w",
			auctionID, ak.orderPhaseEnd, orderPhaseEnd, errScheduleChanged)
	}
	return ak.pair.Public, nil
}

// revealable returns the key of an auction whose order phase has closed.
func (km *KeyManager) revealable(auctionID string) (*auctionKey, error) {
	km.mu.RLock()
	ak, ok := km.keys[auctionID]
	km.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction %q: %w", auctionID, errUnknownAuction)
	}
	if now := km.clock(); now < ak.orderPhaseEnd {
		return nil, fmt.Errorf("auction %q at %d, order phase ends %d: %w", auctionID, now, ak.orderPhaseEnd, errOrderPhaseOpen)
	}
	return ak, nil
}

// CanReveal reports why shared keys of auctionID cannot be released yet, if they can't.
func (km *KeyManager) CanReveal(auctionID string) error {
	_, err := km.revealable(auctionID)
	return err
}

// SharedKey returns the key that opens the orders peer sealed for auctionID. It is only
// released after the auction's order phase has ended.
func (km *KeyManager) SharedKey(auctionID string, peer sealed.Key) (sealed.Key, error) {
	ak, err := km.revealable(auctionID)
	if err != nil {
		return sealed.Key{}, err
	}
	return sealed.SharedKey(peer, ak.pair.Secret), nil
}

// Forget drops the key pair of a finished auction.
func (km *KeyManager) Forget(auctionID string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	_, ok := km.keys[auctionID]
	delete(km.keys, auctionID)
	return ok
}

func (km *KeyManager) Len() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.keys)
}

// HandleKeyRequest returns the auction public key with an attestation binding it, and
// the order phase end it will be revealed after, to this enclave.
func HandleKeyRequest(attester EnclaveAttester, keyManager *KeyManager, req enclaveapi.KeyRequest, requestID string) (*enclaveapi.KeyResponse, error) {
	pub, err := keyManager.PublicKey(req.AuctionID, req.OrderPhaseEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	attestation, err := GenerateKeyAttestation(attester, req.AuctionID, pub, req.OrderPhaseEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}

	return &enclaveapi.KeyResponse{
		Type:                  enclaveapi.TypeKeyResponse,
		RequestID:             requestID,
		AuctionID:             req.AuctionID,
		PublicKey:             pub.String(),
		OrderPhaseEnd:         req.OrderPhaseEnd,
		AttestationCOSEBase64: attestation.EncodeBase64(),
	}, nil
}
