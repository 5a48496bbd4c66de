package relay

import (
	"context"

	"github.com/nostrhome/hub/internal/model"
)

// Limitation is the NIP-11 limits object.
type Limitation struct {
	MaxMessageLength    int   `json:"max_message_length"`
	MaxSubscriptions    int   `json:"max_subscriptions"`
	MaxFilters          int   `json:"max_filters"`
	MaxLimit            int   `json:"max_limit"`
	MaxSubidLength      int   `json:"max_subid_length"`
	MaxContentLength    int   `json:"max_content_length"`
	MinPowDifficulty    int   `json:"min_pow_difficulty"`
	AuthRequired        bool  `json:"auth_required"`
	PaymentRequired     bool  `json:"payment_required"`
	RestrictedWrites    bool  `json:"restricted_writes"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit"`
}

// InfoDocument is the NIP-11 relay information document.
type InfoDocument struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Pubkey        string     `json:"pubkey"`
	Contact       string     `json:"contact"`
	SupportedNIPs []int      `json:"supported_nips"`
	Software      string     `json:"software"`
	Version       string     `json:"version"`
	Limitation    Limitation `json:"limitation"`
	PostingPolicy string     `json:"posting_policy,omitempty"`
}

// SupportedNIPs lists the protocol extensions this relay implements.
func SupportedNIPs() []int {
	return []int{1, 9, 11, 12, 13, 15, 16, 20, 22, 33, 40, 42, 45, 50}
}

// Info builds the relay information document.
func (r *Relay) Info() InfoDocument {
	now := r.now()
	description := r.cfg.Description
	policy := "Personal relay with content aggregation"
	if r.cfg.OwnerPubkey != "" {
		description += " - Owner-only relay"
		policy = "Owner-only relay - only accepts events from " + r.cfg.OwnerNpub
	}
	return InfoDocument{
		Name:          r.cfg.Name,
		Description:   description,
		Pubkey:        r.cfg.OwnerPubkey,
		Contact:       r.cfg.Contact,
		SupportedNIPs: SupportedNIPs(),
		Software:      r.cfg.Software,
		Version:       r.cfg.Version,
		Limitation: Limitation{
			MaxMessageLength:    r.cfg.MaxMessageLength,
			MaxSubscriptions:    r.cfg.MaxSubscriptions,
			MaxFilters:          r.cfg.MaxFilters,
			MaxLimit:            r.cfg.MaxEventsPerRequest,
			MaxSubidLength:      r.cfg.MaxSubIDLength,
			MaxContentLength:    r.cfg.MaxContentLength,
			MinPowDifficulty:    r.cfg.MinPowDifficulty,
			AuthRequired:        r.cfg.AuthRequired,
			PaymentRequired:     false,
			RestrictedWrites:    r.cfg.OwnerPubkey != "",
			CreatedAtLowerLimit: now.Add(-r.cfg.MaxPastSkew).Unix(),
			CreatedAtUpperLimit: now.Add(r.cfg.MaxFutureSkew).Unix(),
		},
		PostingPolicy: policy,
	}
}

// Stats reports event store totals for the info endpoints.
func (r *Relay) Stats(ctx context.Context) (model.RelayStats, error) {
	return r.store.Stats(ctx)
}
