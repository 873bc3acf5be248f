// Package escrow instructs the custody collaborator to move staked funds. The
// service only orchestrates the transfer instruction and records the returned
// reference; custody itself is external.
package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Request asks for stakeAmount to be released from escrow to the owner.
type Request struct {
	ToWallet string
	Amount   float64
}

// Client performs the release. A failed release must surface as an error so the
// caller can leave commitment state untouched.
type Client interface {
	Release(ctx context.Context, req Request) (txRef string, err error)
}

// StaticClient fabricates transfer references for dev and tests.
type StaticClient struct{}

func NewStaticClient() *StaticClient { return &StaticClient{} }

func (c *StaticClient) Release(ctx context.Context, req Request) (string, error) {
	if req.ToWallet == "" {
		return "", fmt.Errorf("escrow release: destination wallet required")
	}
	return "static-" + uuid.NewString(), nil
}
