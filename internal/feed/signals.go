package feed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
)

// Signals bundles the four independent batch reads feeding the ranker.
type Signals struct {
	Counts   map[int64]model.EngagementCounts
	Flags    map[int64]repository.ViewerFlags
	Media    map[int64][]MediaItem
	Velocity map[int64]float64
}

// Aggregator batch-computes engagement signals for a tweet-id set, caching
// each batch under a hash of the sorted id set.
type Aggregator struct {
	eng    repository.EngagementRepository
	tweets repository.TweetRepository
	store  *cache.Store
	cfg    config.FeedConfig
}

func NewAggregator(eng repository.EngagementRepository, tweets repository.TweetRepository, store *cache.Store, cfg config.FeedConfig) *Aggregator {
	return &Aggregator{eng: eng, tweets: tweets, store: store, cfg: cfg}
}

// idsHash keys a batch by its sorted id set so the same set always maps to
// the same cache entry regardless of request order.
func idsHash(tweetIDs []int64) string {
	sorted := make([]int64, len(tweetIDs))
	copy(sorted, tweetIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := md5.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:12]
}

func (a *Aggregator) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.QueryTimeout)
}

// Counts returns the four engagement counters per tweet. The cached batch is
// only trusted when it covers every requested id.
func (a *Aggregator) Counts(ctx context.Context, viewerID string, tweetIDs []int64) (map[int64]model.EngagementCounts, error) {
	if len(tweetIDs) == 0 {
		return map[int64]model.EngagementCounts{}, nil
	}
	key, err := cache.Key(cache.KeyEngBatch, viewerID, idsHash(tweetIDs))
	if err == nil {
		var cached map[int64]model.EngagementCounts
		if a.store.Get(ctx, key, &cached) && coversAll(cached, tweetIDs) {
			return cached, nil
		}
	}
	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	counts, qerr := a.eng.CountsByTweetIDs(qctx, tweetIDs)
	if qerr != nil {
		return nil, qerr
	}
	if err == nil {
		a.store.Set(ctx, key, counts, cache.TTLFor(cache.ClassEngagement, len(counts)*32, len(counts) == 0))
	}
	return counts, nil
}

func coversAll(m map[int64]model.EngagementCounts, ids []int64) bool {
	for _, id := range ids {
		if _, ok := m[id]; !ok {
			return false
		}
	}
	return true
}

// Flags returns the viewer's liked/bookmarked membership per tweet.
func (a *Aggregator) Flags(ctx context.Context, viewerID string, tweetIDs []int64) (map[int64]repository.ViewerFlags, error) {
	if len(tweetIDs) == 0 {
		return map[int64]repository.ViewerFlags{}, nil
	}
	key, err := cache.Key(cache.KeyUserFlags, viewerID, idsHash(tweetIDs))
	if err == nil {
		var cached map[int64]repository.ViewerFlags
		if a.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	flags, qerr := a.eng.FlagsForViewer(qctx, viewerID, tweetIDs)
	if qerr != nil {
		return nil, qerr
	}
	if err == nil {
		a.store.Set(ctx, key, flags, cache.TTLFor(cache.ClassActivity, 0, len(flags) == 0))
	}
	return flags, nil
}

// Media returns the attachments per tweet. Long TTL, media rarely changes
// after post.
func (a *Aggregator) Media(ctx context.Context, tweetIDs []int64) (map[int64][]MediaItem, error) {
	if len(tweetIDs) == 0 {
		return map[int64][]MediaItem{}, nil
	}
	key, err := cache.Key(cache.KeyMediaBatch, idsHash(tweetIDs))
	if err == nil {
		var cached map[int64][]MediaItem
		if a.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	rows, qerr := a.tweets.MediaByTweetIDs(qctx, tweetIDs)
	if qerr != nil {
		return nil, qerr
	}
	out := make(map[int64][]MediaItem, len(rows))
	for id, items := range rows {
		for _, m := range items {
			out[id] = append(out[id], MediaItem{Type: m.MediaType, Path: m.MediaPath})
		}
	}
	if err == nil {
		a.store.Set(ctx, key, out, cache.TTLFor(cache.ClassMedia, 0, len(out) == 0))
	}
	return out, nil
}

// Velocity compares like counts in the recent window against the prior
// window. The cache TTL is deliberately very short: served stale, trend
// detection is meaningless.
func (a *Aggregator) Velocity(ctx context.Context, tweetIDs []int64) (map[int64]float64, error) {
	if len(tweetIDs) == 0 {
		return map[int64]float64{}, nil
	}
	key, err := cache.Key(cache.KeyEngVelocity, idsHash(tweetIDs))
	if err == nil {
		var cached map[int64]float64
		if a.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	// 两个窗口都是距 now 的时间：前窗为 [now-prev, now-recent]
	now := time.Now()
	recentStart := now.Add(-a.cfg.VelocityRecentWindow)
	prevStart := now.Add(-a.cfg.VelocityPreviousWindow)

	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	recent, qerr := a.eng.LikeCountsBetween(qctx, tweetIDs, recentStart, now)
	if qerr != nil {
		return nil, qerr
	}
	qctx2, cancel2 := a.queryCtx(ctx)
	defer cancel2()
	previous, qerr := a.eng.LikeCountsBetween(qctx2, tweetIDs, prevStart, recentStart)
	if qerr != nil {
		return nil, qerr
	}

	out := make(map[int64]float64, len(tweetIDs))
	for _, id := range tweetIDs {
		r, p := float64(recent[id]), float64(previous[id])
		var v float64
		if p > 0 {
			v = (r - p) / p
		} else {
			v = r
		}
		if v < 0 {
			v = 0
		}
		out[id] = v
	}
	if err == nil {
		a.store.Set(ctx, key, out, cache.VelocityTTL)
	}
	return out, nil
}

// Gather runs the four batch reads concurrently and joins them. Any failure
// fails the whole gather.
func (a *Aggregator) Gather(ctx context.Context, viewerID string, tweetIDs []int64) (*Signals, error) {
	sig := &Signals{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := a.Counts(gctx, viewerID, tweetIDs)
		sig.Counts = counts
		return err
	})
	g.Go(func() error {
		flags, err := a.Flags(gctx, viewerID, tweetIDs)
		sig.Flags = flags
		return err
	})
	g.Go(func() error {
		media, err := a.Media(gctx, tweetIDs)
		sig.Media = media
		return err
	})
	g.Go(func() error {
		velocity, err := a.Velocity(gctx, tweetIDs)
		sig.Velocity = velocity
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sig, nil
}
