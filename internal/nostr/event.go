// Package nostr implements protocol-level event mechanics: canonical id
// computation, signature verification, proof-of-work, and kind semantics.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/nostrhome/hub/internal/model"
)

// Well-known event kinds.
const (
	KindMetadata   = 0
	KindTextNote   = 1
	KindContacts   = 3
	KindDeletion   = 5
	KindLongForm   = 30023
	KindClientAuth = 22242
)

// Serialize returns the canonical NIP-01 serialization of the event body:
// a compact JSON array [0, pubkey, created_at, kind, tags, content] with
// UTF-8 preserved and no HTML escaping.
func Serialize(ev model.Event) ([]byte, error) {
	tags := ev.Tags
	if tags == nil {
		tags = model.Tags{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode([]any{0, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content})
	if err != nil {
		return nil, err
	}
	// Encoder terminates the stream with a newline that is not part of the
	// canonical form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the hex SHA-256 digest of the canonical serialization.
func ComputeID(ev model.Event) (string, error) {
	ser, err := Serialize(ev)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(ser)
	return hex.EncodeToString(sum[:]), nil
}

// CheckID recomputes the id and compares it to the declared one.
func CheckID(ev model.Event) (bool, error) {
	id, err := ComputeID(ev)
	if err != nil {
		return false, err
	}
	return id == ev.ID, nil
}

// VerifySignature checks that sig is a valid BIP-340 Schnorr signature over
// the event id by the event's x-only public key.
func VerifySignature(ev model.Event) (bool, error) {
	pkBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(pkBytes) != 32 {
		return false, errors.New("bad pubkey: want 32 hex bytes")
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false, errors.New("bad sig: want 64 hex bytes")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse sig: %w", err)
	}
	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil || len(idBytes) != 32 {
		return false, errors.New("bad id: want 32 hex bytes")
	}
	return sig.Verify(idBytes, pk), nil
}

// Difficulty returns the number of leading zero bits in the hex event id,
// the NIP-13 proof-of-work measure. Malformed ids count as zero.
func Difficulty(id string) int {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return 0
	}
	n := 0
	for _, b := range raw {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

// IsReplaceable reports whether only the newest event per (kind, pubkey)
// is retained: kinds 0, 3 and the 10000-19999 range.
func IsReplaceable(kind int) bool {
	return kind == KindMetadata || kind == KindContacts || (kind >= 10000 && kind <= 19999)
}

// IsParameterizedReplaceable reports whether retention is further keyed by
// the first "d" tag: the 30000-39999 range.
func IsParameterizedReplaceable(kind int) bool {
	return kind >= 30000 && kind <= 39999
}

// DTag returns the value of the first "d" tag and whether one is present.
func DTag(ev model.Event) (string, bool) {
	t := ev.Tags.First("d")
	if t == nil {
		return "", false
	}
	return t.Value(), true
}

// ExpiresAt returns the unix timestamp of the first well-formed expiration
// tag, or 0 when the event does not expire.
func ExpiresAt(ev model.Event) int64 {
	for _, t := range ev.Tags {
		if t.Name() != "expiration" || len(t) < 2 {
			continue
		}
		ts, err := strconv.ParseInt(t[1], 10, 64)
		if err != nil {
			continue
		}
		return ts
	}
	return 0
}

// IsExpired reports whether the event carries an expiration tag in the past.
func IsExpired(ev model.Event, now int64) bool {
	exp := ExpiresAt(ev)
	return exp != 0 && now > exp
}
