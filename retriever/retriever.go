// Package retriever implements the memory fusion retriever: one relevance
// query fanned out to the session-history, private and public memory tiers in
// parallel, merged into a single ranked list.
package retriever

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
)

// DefaultPriority orders tiers for tie-breaking: private information is
// assumed more specific than public, which beats raw transcript history.
var DefaultPriority = []core.Tier{core.TierPrivate, core.TierPublic, core.TierHistory}

// Options configures a Fusion retriever.
type Options struct {
	// PerStoreLimit caps how many entries each tier may return per query.
	PerStoreLimit int
	// Cap bounds the merged result list.
	Cap int
	// StoreTimeout bounds each individual tier query. A timed-out tier is
	// treated as a failure for that call only.
	StoreTimeout time.Duration
	// Priority is the tie-break order between equal scores.
	Priority []core.Tier
	// CacheSize / CacheTTL configure the query-result cache. CacheSize <= 0
	// disables caching.
	CacheSize int
	CacheTTL  time.Duration
	// Logger receives per-tier failure warnings.
	Logger logging.Logger
}

// Fusion queries all three memory tiers concurrently for a turn, merging and
// truncating by relevance. A tier failure degrades to an empty list for that
// tier; partial results are always acceptable.
type Fusion struct {
	history core.MemoryStore
	private core.MemoryStore
	public  core.MemoryStore

	opts   Options
	rank   map[core.Tier]int
	cache  *expirable.LRU[string, []core.ScoredEntry]
	logger logging.Logger
}

// New builds a Fusion over the three tier stores.
func New(history, private, public core.MemoryStore, optFns ...func(o *Options)) *Fusion {
	opts := Options{
		PerStoreLimit: 10,
		Cap:           10,
		StoreTimeout:  2 * time.Second,
		Priority:      DefaultPriority,
		CacheSize:     256,
		CacheTTL:      30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	rank := make(map[core.Tier]int, len(opts.Priority))
	for i, t := range opts.Priority {
		rank[t] = i
	}

	f := &Fusion{
		history: history,
		private: private,
		public:  public,
		opts:    opts,
		rank:    rank,
		logger:  logging.OrNoOp(opts.Logger),
	}
	if opts.CacheSize > 0 {
		f.cache = expirable.NewLRU[string, []core.ScoredEntry](opts.CacheSize, nil, opts.CacheTTL)
	}
	return f
}

// Retrieve issues the three tier queries concurrently and returns the fused
// ranked list: descending score, ties broken by tier priority. The result is
// truncated to the configured cap.
func (f *Fusion) Retrieve(ctx context.Context, query string, key core.SessionKey) ([]core.ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := key.UserID + "\x00" + key.SessionID + "\x00" + query
	if f.cache != nil {
		if hit, ok := f.cache.Get(cacheKey); ok {
			return hit, nil
		}
	}

	var (
		histRes []core.ScoredEntry
		privRes []core.ScoredEntry
		pubRes  []core.ScoredEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		histRes = f.queryTier(gctx, f.history, core.TierHistory, core.SessionScope(key), query)
		return nil
	})
	g.Go(func() error {
		privRes = f.queryTier(gctx, f.private, core.TierPrivate, core.PrivateScope(key.UserID), query)
		return nil
	})
	g.Go(func() error {
		pubRes = f.queryTier(gctx, f.public, core.TierPublic, core.PublicScope(), query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := make([]core.ScoredEntry, 0, len(histRes)+len(privRes)+len(pubRes))
	merged = append(merged, privRes...)
	merged = append(merged, pubRes...)
	merged = append(merged, histRes...)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return f.rank[merged[i].Tier] < f.rank[merged[j].Tier]
	})
	if f.opts.Cap > 0 && len(merged) > f.opts.Cap {
		merged = merged[:f.opts.Cap]
	}

	if f.cache != nil {
		f.cache.Add(cacheKey, merged)
	}
	return merged, nil
}

// queryTier runs one tier query under the per-store timeout. Failures and
// timeouts degrade to an empty result; they never abort the fusion.
func (f *Fusion) queryTier(ctx context.Context, store core.MemoryStore, tier core.Tier, scope core.Scope, query string) []core.ScoredEntry {
	if store == nil {
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, f.opts.StoreTimeout)
	defer cancel()

	entries, err := store.Retrieve(tctx, scope, query, f.opts.PerStoreLimit)
	if err != nil {
		f.logger.Warn("memory tier query failed", "tier", tier.String(), "error", err.Error())
		return nil
	}
	for i := range entries {
		entries[i].Tier = tier
	}
	return entries
}
