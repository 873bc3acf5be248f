// Package reconcile merges the off-chain record store with the on-chain asset
// index into one canonical per-owner list. The record store is authoritative
// but laggy about minting; the index confirms existence but lags writes and may
// be unavailable. Status is derived at merge time, never persisted here.
package reconcile

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/lifeadmin/commitd/internal/chainview"
	"github.com/lifeadmin/commitd/internal/models"
	"github.com/lifeadmin/commitd/internal/store"
)

// Item is one row of the merged view.
type Item struct {
	ID       string        `json:"mint"`
	Service  string        `json:"service"`
	Deadline time.Time     `json:"deadline"`
	Stake    float64       `json:"stake"`
	Status   models.Status `json:"status"`
	ProofRef string        `json:"proofCid,omitempty"`
	// Tracked marks rows backed by a record-store entry.
	Tracked bool `json:"isTracked"`
	// ChainConfirmed marks rows the on-chain index reported. False either means
	// indexer lag or that the chain view was unavailable for this request.
	ChainConfirmed bool `json:"chainConfirmed"`
}

type Engine struct {
	store    store.Store
	chain    chainview.Client
	resolver chainview.Resolver
	timeout  time.Duration
	now      func() time.Time
}

type Options struct {
	// ChainTimeout bounds the whole chain-side fetch, metadata included.
	ChainTimeout time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

func New(st store.Store, chain chainview.Client, resolver chainview.Resolver, opts Options) *Engine {
	timeout := opts.ChainTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: st, chain: chain, resolver: resolver, timeout: timeout, now: now}
}

// Owned returns the canonical commitment list for one owner.
//
// The DB view always wins where both sides know an id. Chain-only assets are
// hydrated from metadata and shown as ON_CHAIN_ONLY, except that a chain-only
// item sharing a service label with a tracked record is discarded as a ghost
// duplicate. A PENDING record past its deadline is displayed FAILED without
// touching the stored status; the persisted transition happens only through an
// explicit reject.
func (e *Engine) Owned(ctx context.Context, owner string) ([]Item, error) {
	dbView, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := e.now()

	items := make([]Item, 0, len(dbView))
	byID := make(map[string]struct{}, len(dbView))
	trackedServices := make(map[string]struct{}, len(dbView))
	for _, rec := range dbView {
		byID[rec.ID] = struct{}{}
		trackedServices[rec.Service] = struct{}{}
		items = append(items, Item{
			ID:       rec.ID,
			Service:  rec.Service,
			Deadline: rec.Deadline,
			Stake:    rec.StakeAmount,
			Status:   deriveStatus(rec.Status, rec.Deadline, now),
			ProofRef: rec.ProofRef,
			Tracked:  true,
		})
	}

	assets := e.fetchChainView(ctx, owner)
	onChain := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		onChain[a.ID] = struct{}{}
	}
	for i := range items {
		_, items[i].ChainConfirmed = onChain[items[i].ID]
	}

	for _, asset := range assets {
		if _, tracked := byID[asset.ID]; tracked {
			continue
		}
		meta, err := e.resolveMetadata(ctx, asset.MetadataURI)
		if err != nil {
			// Unreadable metadata: nothing usable to display, drop the asset.
			log.Printf("[reconcile] hydrate %s: %v", asset.ID, err)
			continue
		}
		// A tracked record with the same service label is the better view of
		// this commitment; the chain-only entry is a ghost duplicate.
		if _, dup := trackedServices[meta.Service]; dup {
			continue
		}
		status := models.StatusOnChainOnly
		if !meta.Deadline.IsZero() && meta.Deadline.Before(now) {
			status = models.StatusFailed
		}
		items = append(items, Item{
			ID:             asset.ID,
			Service:        meta.Service,
			Deadline:       meta.Deadline,
			Stake:          meta.Stake,
			Status:         status,
			ChainConfirmed: true,
		})
	}

	sortItems(items)
	return items, nil
}

// fetchChainView degrades to an empty chain view on any failure; the merged
// list must never be held hostage by the indexer.
func (e *Engine) fetchChainView(ctx context.Context, owner string) []chainview.Asset {
	if e.chain == nil {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	assets, err := e.chain.ListOwnedAssets(fetchCtx, owner)
	if err != nil {
		log.Printf("[reconcile] chain view unavailable for %s: %v", owner, err)
		return nil
	}
	return assets
}

func (e *Engine) resolveMetadata(ctx context.Context, uri string) (chainview.Metadata, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.resolver.Resolve(resolveCtx, uri)
}

func deriveStatus(stored models.Status, deadline time.Time, now time.Time) models.Status {
	if stored == models.StatusPending && !deadline.IsZero() && deadline.Before(now) {
		return models.StatusFailed
	}
	return stored
}

// sortItems puts active commitments first ordered soonest-deadline-first, then
// terminal ones most-recent-first.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].Status.Active(), items[j].Status.Active()
		if ai != aj {
			return ai
		}
		if ai {
			return items[i].Deadline.Before(items[j].Deadline)
		}
		return items[i].Deadline.After(items[j].Deadline)
	})
}
