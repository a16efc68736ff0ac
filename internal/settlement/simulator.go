package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Simulator is an in-process stand-in for the payout backend, used when no
// SETTLEMENT_URL is configured and in tests. It mints a plausible on-chain
// transaction hash and optionally fails or stalls on demand.
type Simulator struct {
	// Fail makes every payout fail.
	Fail bool
	// Delay is applied before answering; the context deadline still wins.
	Delay time.Duration
}

func (s *Simulator) Initiate(ctx context.Context, p Payout) (Result, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if s.Fail {
		return Result{}, errors.New("simulated payout failure")
	}

	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Result{}, fmt.Errorf("generate transaction hash: %w", err)
	}

	return Result{
		Succeeded: true,
		Reference: "0x" + hex.EncodeToString(buf[:]),
	}, nil
}
