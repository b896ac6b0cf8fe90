package feed

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/pkg/apperrors"
	"github.com/cirkle/backend/pkg/logger"
)

const (
	refreshTTL      = time.Minute
	latestTTL       = 5 * time.Minute
	latestEmptyTTL  = time.Minute
	olderTTL        = 30 * time.Minute
	olderEmptyTTL   = 5 * time.Minute
	lockWaitStep    = 150 * time.Millisecond
	lockWaitRetries = 4
)

// PageBuilder produces one feed page from scratch. Satisfied by Builder.
type PageBuilder interface {
	Build(ctx context.Context, req Request) (*Page, error)
}

// Orchestrator fronts the PageBuilder with the feed cache: read-through with
// stampede-protected recomputation and a last-known-good fallback for
// degraded operation.
type Orchestrator struct {
	store   *cache.Store
	builder PageBuilder
}

func NewOrchestrator(store *cache.Store, builder PageBuilder) *Orchestrator {
	return &Orchestrator{store: store, builder: builder}
}

func feedKey(req Request) (string, error) {
	bucket := "stable"
	if req.FeedType == FeedLatest {
		// Hour bucket caps how long a latest page can outlive its window.
		bucket = hourBucket(time.Now())
	}
	rec := "norec"
	if req.IncludeRecommendations {
		rec = "rec"
	}
	return cache.Key(cache.KeyFeed, req.UserID, string(req.FeedType), rec,
		"p"+strconv.Itoa(req.Page), "s"+strconv.Itoa(req.PageSize),
		"c"+strconv.FormatInt(req.LastTweetID, 10), bucket)
}

func fallbackKey(req Request) (string, error) {
	return cache.Key(cache.KeyFeed, req.UserID, "fallback", string(req.FeedType))
}

func feedTTL(req Request, empty bool) time.Duration {
	if req.Refresh {
		return refreshTTL
	}
	if req.FeedType == FeedOlder {
		if empty {
			return olderEmptyTTL
		}
		return olderTTL
	}
	if empty {
		return latestEmptyTTL
	}
	return latestTTL
}

// Get returns the feed page for the request: cache hit, lock-guarded
// rebuild, or degraded fallback, in that order.
func (o *Orchestrator) Get(ctx context.Context, req Request) (*Page, error) {
	key, err := feedKey(req)
	if err != nil {
		return nil, apperrors.Internal("build feed cache key", err)
	}

	if !req.Refresh {
		var page Page
		if o.store.Get(ctx, key, &page) {
			return &page, nil
		}
	}

	if o.store.AcquireLock(ctx, key, cache.LockTTLFor(time.Second)) {
		defer o.store.ReleaseLock(ctx, key)
		// Another holder may have filled the slot while we raced for the
		// lock.
		if !req.Refresh {
			var page Page
			if o.store.Get(ctx, key, &page) {
				return &page, nil
			}
		}
		return o.buildAndStore(ctx, req, key)
	}

	// Someone else is computing. Wait briefly, re-check once, then compute
	// without caching rather than blocking.
	for i := 0; i < lockWaitRetries; i++ {
		select {
		case <-time.After(lockWaitStep):
		case <-ctx.Done():
			return nil, apperrors.Unavailable("feed build canceled", ctx.Err())
		}
		var page Page
		if o.store.Get(ctx, key, &page) {
			return &page, nil
		}
	}
	page, err := o.builder.Build(ctx, req)
	if err != nil {
		return o.fallback(ctx, req, err)
	}
	return page, nil
}

func (o *Orchestrator) buildAndStore(ctx context.Context, req Request, key string) (*Page, error) {
	page, err := o.builder.Build(ctx, req)
	if err != nil {
		return o.fallback(ctx, req, err)
	}
	o.store.Set(ctx, key, page, feedTTL(req, len(page.Tweets) == 0))
	if len(page.Tweets) > 0 {
		if fbKey, kerr := fallbackKey(req); kerr == nil {
			o.store.Set(ctx, fbKey, page, cache.TTLFor(cache.ClassExpensiveQuery, 0, false))
		}
	}
	return page, nil
}

// fallback serves the last known good page when a build fails, else
// surfaces a retryable error.
func (o *Orchestrator) fallback(ctx context.Context, req Request, buildErr error) (*Page, error) {
	logger.Warn("feed build failed",
		zap.String("user_id", req.UserID),
		zap.String("feed_type", string(req.FeedType)),
		zap.Error(buildErr))
	if fbKey, kerr := fallbackKey(req); kerr == nil {
		var page Page
		if o.store.Get(ctx, fbKey, &page) {
			return &page, nil
		}
	}
	return nil, apperrors.Unavailable("feed temporarily unavailable, retry", buildErr)
}

// RefreshUser recomputes page 1 of a user's latest feed. Entry point for
// background refresh jobs fired after posts.
func (o *Orchestrator) RefreshUser(ctx context.Context, userID string, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 20
	}
	_, err := o.Get(ctx, Request{
		UserID:                 userID,
		Page:                   1,
		PageSize:               pageSize,
		FeedType:               FeedLatest,
		IncludeRecommendations: true,
		Refresh:                true,
	})
	return err
}
