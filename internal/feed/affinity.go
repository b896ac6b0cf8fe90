package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/repository"
)

const (
	affinityWindow     = 7 * 24 * time.Hour
	affinityTTL        = time.Hour
	affinityRefreshTTL = 15 * time.Minute
)

// Estimator computes a normalized per-author affinity score for a viewer
// from recent like history. Cached per hour bucket; affinity moves slowly.
type Estimator struct {
	eng   repository.EngagementRepository
	store *cache.Store
	cfg   config.FeedConfig
}

func NewEstimator(eng repository.EngagementRepository, store *cache.Store, cfg config.FeedConfig) *Estimator {
	return &Estimator{eng: eng, store: store, cfg: cfg}
}

// Affinities returns author_id -> score in [0,1] for the viewer. The
// most-liked author in the window scores 1.0. Zero in-window interactions
// yields an empty map; callers treat a missing author as affinity 0.
func (e *Estimator) Affinities(ctx context.Context, userID string, forceRefresh bool) (map[string]float64, error) {
	bucket := strconv.Itoa(time.Now().Hour())
	key, kerr := cache.Key(cache.KeyAffinity, userID, "h"+bucket)
	if kerr == nil && !forceRefresh {
		var cached map[string]float64
		if e.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	counts, err := e.eng.LikedAuthorCounts(qctx, userID, time.Now().Add(-affinityWindow))
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(counts))
	var max int64
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	if max > 0 {
		for author, c := range counts {
			out[author] = float64(c) / float64(max)
		}
	}

	if kerr == nil {
		ttl := affinityTTL
		if forceRefresh {
			ttl = affinityRefreshTTL
		}
		if len(out) == 0 {
			ttl = cache.EmptyResultTTL
		}
		e.store.Set(ctx, key, out, ttl)
	}
	return out, nil
}
