package main

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/enclaveapi"
	"github.com/cloudx-io/batchauction/sealed"
)

// revealOutcome is the result for one requested user.
type revealOutcome struct {
	key    *enclaveapi.SharedKey
	reason string
}

// ProcessReveal derives the shared key of every requested user. Users with a malformed
// identity or key are excluded. An unknown auction, or one whose order phase has not
// ended yet, fails the whole request.
func ProcessReveal(ctx context.Context, req enclaveapi.RevealRequest, keyManager *KeyManager, requestID string) enclaveapi.RevealResponse {
	startTime := time.Now()
	log.Printf("INFO: Processing reveal for auction %s with %d users", req.AuctionID, len(req.Users))

	fail := func(msg string) enclaveapi.RevealResponse {
		return enclaveapi.RevealResponse{
			Type:           enclaveapi.TypeRevealResponse,
			RequestID:      requestID,
			Message:        msg,
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}
	if len(req.Users) == 0 {
		return fail("no users to reveal")
	}
	if err := keyManager.CanReveal(req.AuctionID); err != nil {
		log.Printf("WARNING: Refusing reveal for auction %s: %v", req.AuctionID, err)
		return fail(fmt.Sprintf("Reveal refused: %v", err))
	}

	outcomes := make([]revealOutcome, len(req.Users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, u := range req.Users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := revealUser(req.AuctionID, u, keyManager)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("ERROR: Reveal for auction %s failed: %v", req.AuctionID, err)
		return fail(fmt.Sprintf("Reveal failed: %v", err))
	}

	resp := enclaveapi.RevealResponse{
		Type:      enclaveapi.TypeRevealResponse,
		RequestID: requestID,
		Success:   true,
	}
	seen := make(map[string]bool, len(req.Users))
	for i, out := range outcomes {
		owner := req.Users[i].Owner
		switch {
		case out.key == nil:
			resp.Excluded = append(resp.Excluded, enclaveapi.ExcludedUser{Owner: owner, Reason: out.reason})
		case seen[out.key.Owner]:
			resp.Excluded = append(resp.Excluded, enclaveapi.ExcludedUser{Owner: owner, Reason: "duplicate_owner"})
		default:
			seen[out.key.Owner] = true
			resp.Keys = append(resp.Keys, *out.key)
		}
	}
	resp.Message = fmt.Sprintf("Released %d shared keys, excluded %d users", len(resp.Keys), len(resp.Excluded))
	resp.ProcessingTime = time.Since(startTime).Milliseconds()
	log.Printf("INFO: Reveal complete for auction %s: keys=%d excluded=%d processing=%dms",
		req.AuctionID, len(resp.Keys), len(resp.Excluded), resp.ProcessingTime)
	return resp
}

func revealUser(auctionID string, u enclaveapi.RevealUser, keyManager *KeyManager) (revealOutcome, error) {
	owner, err := address.ParseIdentity(u.Owner)
	if err != nil {
		log.Printf("WARNING: Excluding user %q: %v", u.Owner, err)
		return revealOutcome{reason: "invalid_owner"}, nil
	}
	pub, err := sealed.ParseKey(u.PublicKey)
	if err != nil || pub.IsZero() {
		log.Printf("WARNING: Excluding user %s: invalid public key", owner)
		return revealOutcome{reason: "invalid_public_key"}, nil
	}

	shared, err := keyManager.SharedKey(auctionID, pub)
	if err != nil {
		return revealOutcome{}, err
	}
	return revealOutcome{key: &enclaveapi.SharedKey{Owner: owner.String(), SharedKey: shared.String()}}, nil
}
