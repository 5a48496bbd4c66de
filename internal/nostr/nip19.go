package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const npubPrefix = "npub"

// DecodeNpub converts a bech32 npub into a hex-encoded 32-byte public key.
func DecodeNpub(npub string) (string, error) {
	hrp, data, err := bech32.Decode(npub)
	if err != nil {
		return "", fmt.Errorf("decode npub: %w", err)
	}
	if hrp != npubPrefix {
		return "", fmt.Errorf("decode npub: unexpected prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("decode npub: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("decode npub: got %d bytes, want 32", len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// EncodeNpub converts a hex-encoded 32-byte public key into a bech32 npub.
func EncodeNpub(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("encode npub: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("encode npub: got %d bytes, want 32", len(raw))
	}
	grouped, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("encode npub: %w", err)
	}
	return bech32.Encode(npubPrefix, grouped)
}
