// Package relay implements the Nostr relay: event validation, the
// subscription registry, per-connection sessions, and the wire protocol engine.
package relay

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nostrhome/hub/internal/errs"
	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
)

// Validator checks events against structural, policy, and cryptographic
// constraints before they reach the store.
type Validator struct {
	ownerPubkey      string // hex; empty disables owner-only mode
	maxPastSkew      time.Duration
	maxFutureSkew    time.Duration
	maxContentLength int
	minPowDifficulty int
	now              func() time.Time
}

// NewValidator constructs a validator. ownerPubkey may be empty for an open
// relay; zero durations and lengths fall back to protocol defaults.
func NewValidator(ownerPubkey string, maxPastSkew, maxFutureSkew time.Duration, maxContentLength, minPowDifficulty int) *Validator {
	if maxPastSkew <= 0 {
		maxPastSkew = 365 * 24 * time.Hour
	}
	if maxFutureSkew <= 0 {
		maxFutureSkew = 10 * time.Minute
	}
	if maxContentLength <= 0 {
		maxContentLength = 65536
	}
	return &Validator{
		ownerPubkey:      ownerPubkey,
		maxPastSkew:      maxPastSkew,
		maxFutureSkew:    maxFutureSkew,
		maxContentLength: maxContentLength,
		minPowDifficulty: minPowDifficulty,
		now:              time.Now,
	}
}

// Validate runs the checks in protocol order and stops at the first failure.
// Returned errors wrap a sentinel whose text is the machine-readable reason
// prefix used in OK replies.
func (v *Validator) Validate(ev model.Event) error {
	if err := checkShape(ev); err != nil {
		return err
	}
	if v.ownerPubkey != "" && ev.PubKey != v.ownerPubkey {
		return fmt.Errorf("%w: relay only accepts events from owner", errs.ErrRestricted)
	}

	now := v.now().Unix()
	if ev.CreatedAt > now+int64(v.maxFutureSkew/time.Second) {
		return fmt.Errorf("%w: created_at too far in the future", errs.ErrInvalidEvent)
	}
	if ev.CreatedAt < now-int64(v.maxPastSkew/time.Second) {
		return fmt.Errorf("%w: created_at too far in the past", errs.ErrInvalidEvent)
	}

	if len(ev.Content) > v.maxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", errs.ErrInvalidEvent, v.maxContentLength)
	}

	if v.minPowDifficulty > 0 {
		if got := nostr.Difficulty(ev.ID); got < v.minPowDifficulty {
			return fmt.Errorf("%w: difficulty %d is less than %d", errs.ErrPow, got, v.minPowDifficulty)
		}
	}

	ok, err := nostr.CheckID(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidEvent, err)
	}
	if !ok {
		return fmt.Errorf("%w: event id does not match", errs.ErrInvalidEvent)
	}

	ok, err = nostr.VerifySignature(ev)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", errs.ErrInvalidEvent)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not verify", errs.ErrInvalidEvent)
	}
	return nil
}

func checkShape(ev model.Event) error {
	if !isHex(ev.ID, 64) {
		return fmt.Errorf("%w: missing or malformed id", errs.ErrInvalidEvent)
	}
	if !isHex(ev.PubKey, 64) {
		return fmt.Errorf("%w: missing or malformed pubkey", errs.ErrInvalidEvent)
	}
	if !isHex(ev.Sig, 128) {
		return fmt.Errorf("%w: missing or malformed sig", errs.ErrInvalidEvent)
	}
	if ev.Kind < 0 {
		return fmt.Errorf("%w: negative kind", errs.ErrInvalidEvent)
	}
	return nil
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
