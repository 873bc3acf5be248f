package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the persisted lifecycle state of a commitment.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusProofSubmitted Status = "PROOF_SUBMITTED"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"

	// StatusOnChainOnly is never persisted; it marks merged-view items that exist
	// in the on-chain index but have no off-chain record.
	StatusOnChainOnly Status = "ON_CHAIN_ONLY"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether s still participates in the lifecycle.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProofSubmitted || s == StatusOnChainOnly
}

// Commitment is one staked promise. The ID is the on-chain asset address once
// minted; recovery may rebind a ghost placeholder id to the real address exactly
// once. All fields except Status, ProofRef, the resolution fields, and
// LastNotifiedAt are immutable after creation.
type Commitment struct {
	ID          string    `json:"mintAddress"`
	Owner       string    `json:"owner"`
	Verifier    string    `json:"verifier"`
	Email       string    `json:"email,omitempty"`
	MetadataURI string    `json:"metadataUri,omitempty"`
	Service     string    `json:"service"`
	Deadline    time.Time `json:"renewalDate"`
	StakeAmount float64   `json:"stakeAmount"`
	Status      Status    `json:"status"`

	ProofRef string `json:"proofCid,omitempty"`

	CreatedAt        time.Time  `json:"createdAt"`
	ProofSubmittedAt *time.Time `json:"proofSubmittedAt,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	LastNotifiedAt   *time.Time `json:"lastNotified,omitempty"`

	ResolutionTx string `json:"refundTx,omitempty"`
}

// Expired reports whether the deadline has passed at the given instant.
func (c Commitment) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && c.Deadline.Before(now)
}

// deadlineLayouts covers the formats clients actually send: RFC3339 from API
// clients and the datetime-local / date-only strings browser forms produce.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDeadline parses a deadline from any accepted client format.
func ParseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized deadline %q", s)
}

// ParseStake extracts a stake value from the loose formats clients send: a bare
// number, a numeric string, or "<number> <unit>" like "0.5 SOL". Anything
// unparsable yields zero.
func ParseStake(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
