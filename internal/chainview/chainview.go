// Package chainview reads the on-chain side of the commitment ledger: an
// eventually-consistent asset index plus lazy metadata resolution. It is a
// read-only oracle; commitment status is never derived from it directly.
package chainview

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lifeadmin/commitd/internal/models"
)

// Asset is one asset the index reports for an owner.
type Asset struct {
	ID          string `json:"assetId"`
	MetadataURI string `json:"metadataUri"`
}

// Client enumerates assets owned by a party. Implementations may lag real-world
// writes by an indeterminate interval; callers bound every fetch with a context
// deadline and degrade to the off-chain view on error.
type Client interface {
	ListOwnedAssets(ctx context.Context, owner string) ([]Asset, error)
}

// Metadata is the commitment envelope stored behind an asset's metadata URI.
type Metadata struct {
	Service  string
	Deadline time.Time
	Stake    float64
	Owner    string
	Verifier string
}

// Resolver fetches and normalizes the metadata blob behind a URI.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (Metadata, error)
}

// rawMetadata tolerates the field aliases that metadata uploads use:
// goal|service, deadline|renewalDate, stake|stakeAmount (number or string).
type rawMetadata struct {
	Type        string          `json:"type"`
	Goal        string          `json:"goal"`
	Service     string          `json:"service"`
	Deadline    string          `json:"deadline"`
	RenewalDate string          `json:"renewalDate"`
	Stake       json.RawMessage `json:"stake"`
	StakeAmount json.RawMessage `json:"stakeAmount"`
	Owner       string          `json:"owner"`
	Verifier    string          `json:"verifier"`
}

func (r rawMetadata) normalize() Metadata {
	m := Metadata{
		Service:  firstNonEmpty(r.Goal, r.Service, "Unknown Task"),
		Stake:    stakeFromRaw(firstNonEmptyRaw(r.Stake, r.StakeAmount)),
		Owner:    r.Owner,
		Verifier: r.Verifier,
	}
	if s := firstNonEmpty(r.Deadline, r.RenewalDate); s != "" {
		if t, err := models.ParseDeadline(s); err == nil {
			m.Deadline = t
		}
	}
	return m
}

func stakeFromRaw(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return models.ParseStake(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
		return f
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}
