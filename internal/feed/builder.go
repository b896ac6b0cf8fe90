package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
)

const (
	orgPrimePoolLimit = 1000
	fallbackPoolLimit = 100
)

// Builder runs one feed build end to end: gather candidates, classify,
// score, allocate, backfill, assemble. Stateless across requests.
type Builder struct {
	follows  repository.FollowRepository
	users    repository.UserRepository
	tweets   repository.TweetRepository
	agg      *Aggregator
	affinity *Estimator
	store    *cache.Store
	cfg      config.FeedConfig
}

func NewBuilder(
	follows repository.FollowRepository,
	users repository.UserRepository,
	tweets repository.TweetRepository,
	agg *Aggregator,
	affinity *Estimator,
	store *cache.Store,
	cfg config.FeedConfig,
) *Builder {
	return &Builder{
		follows:  follows,
		users:    users,
		tweets:   tweets,
		agg:      agg,
		affinity: affinity,
		store:    store,
		cfg:      cfg,
	}
}

func hourBucket(t time.Time) string { return "h" + strconv.Itoa(t.Hour()) }

// followingIDs resolves the viewer's followee set, hour-bucket cached.
func (b *Builder) followingIDs(ctx context.Context, userID string) ([]string, error) {
	key, kerr := cache.Key(cache.KeyFollowing, userID, hourBucket(time.Now()))
	if kerr == nil {
		var cached []string
		if b.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()
	ids, err := b.follows.FollowingIDs(qctx, userID, b.cfg.FollowingLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve following set: %w", err)
	}
	if kerr == nil {
		b.store.Set(ctx, key, ids, cache.TTLFor(cache.ClassSocialGraph, 0, len(ids) == 0))
	}
	return ids, nil
}

// orgPrimeMeta resolves the privileged discovery pool with its metadata,
// cached globally per hour bucket.
func (b *Builder) orgPrimeMeta(ctx context.Context) (map[string]model.UserMeta, error) {
	key, kerr := cache.Key(cache.KeyUserMeta, hourBucket(time.Now()))
	if kerr == nil {
		var cached map[string]model.UserMeta
		if b.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()
	ids, err := b.users.OrgPrimeIDs(qctx, orgPrimePoolLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve org-prime pool: %w", err)
	}
	qctx2, cancel2 := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel2()
	meta, err := b.users.MetaByIDs(qctx2, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve org-prime metadata: %w", err)
	}
	if kerr == nil {
		b.store.Set(ctx, key, meta, cache.TTLFor(cache.ClassRecommendation, len(meta)*64, len(meta) == 0))
	}
	return meta, nil
}

// fallbackIDs samples arbitrary active users so a cold viewer still gets
// recommendations instead of an empty page.
func (b *Builder) fallbackIDs(ctx context.Context) ([]string, error) {
	key, kerr := cache.Key(cache.KeyRecommend, "fallback")
	if kerr == nil {
		var cached []string
		if b.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()
	ids, err := b.users.FallbackIDs(qctx, fallbackPoolLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve fallback pool: %w", err)
	}
	if kerr == nil {
		b.store.Set(ctx, key, ids, cache.TTLFor(cache.ClassRecommendation, 0, len(ids) == 0))
	}
	return ids, nil
}

// eligibleAuthor applies block and privacy gating. Organizational accounts
// bypass the privacy gate; private authors are visible to followers only.
func eligibleAuthor(meta model.UserMeta, following map[string]bool) bool {
	if meta.IsBlocked {
		return false
	}
	if meta.IsPrivate && !meta.IsOrganizational && !following[meta.UserID] {
		return false
	}
	return true
}

// Build produces one feed page. Any sub-query failure fails the whole build:
// no partial feed is ever returned.
func (b *Builder) Build(ctx context.Context, req Request) (*Page, error) {
	now := time.Now()

	following, err := b.followingIDs(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	followingSet := make(map[string]bool, len(following))
	for _, id := range following {
		followingSet[id] = true
	}

	// Author metadata: followees plus the discovery pool.
	authorMeta := make(map[string]model.UserMeta)
	if req.IncludeRecommendations {
		orgMeta, err := b.orgPrimeMeta(ctx)
		if err != nil {
			return nil, err
		}
		for id, m := range orgMeta {
			authorMeta[id] = m
		}
	}
	if len(following) > 0 {
		qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
		meta, err := b.users.MetaByIDs(qctx, following)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("resolve followee metadata: %w", err)
		}
		for id, m := range meta {
			authorMeta[id] = m
		}
	}
	if len(authorMeta) == 0 && req.IncludeRecommendations {
		ids, err := b.fallbackIDs(ctx)
		if err != nil {
			return nil, err
		}
		qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
		meta, err := b.users.MetaByIDs(qctx, ids)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("resolve fallback metadata: %w", err)
		}
		authorMeta = meta
	}

	validIDs := make([]string, 0, len(authorMeta))
	for id, m := range authorMeta {
		if eligibleAuthor(m, followingSet) {
			validIDs = append(validIDs, id)
		}
	}

	tweets, err := b.gatherTweets(ctx, req, validIDs, now)
	if err != nil {
		return nil, err
	}
	if len(tweets) == 0 {
		return &Page{
			Tweets:           []TweetSummary{},
			Page:             req.Page,
			PageSize:         req.PageSize,
			FeedType:         req.FeedType,
			RefreshTimestamp: now,
		}, nil
	}

	tweetIDs := make([]int64, len(tweets))
	for i, t := range tweets {
		tweetIDs[i] = t.ID
	}

	var (
		signals    *Signals
		affinities map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := b.agg.Gather(gctx, req.UserID, tweetIDs)
		signals = s
		return err
	})
	g.Go(func() error {
		a, err := b.affinity.Affinities(gctx, req.UserID, req.Refresh)
		affinities = a
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gather signals: %w", err)
	}

	candidates := assemble(tweets, authorMeta, signals, affinities)
	ranked, total := RankPage(candidates, followingSet, req.Page, req.PageSize, now)

	page := &Page{
		Tweets:           make([]TweetSummary, 0, len(ranked)),
		Total:            total,
		Page:             req.Page,
		PageSize:         req.PageSize,
		FeedType:         req.FeedType,
		RefreshTimestamp: now,
	}
	var minID int64
	for _, c := range ranked {
		page.Tweets = append(page.Tweets, summarize(c))
		if minID == 0 || c.Tweet.ID < minID {
			minID = c.Tweet.ID
		}
	}
	page.LastTweetID = minID

	if req.FeedType == FeedOlder && minID > 0 {
		qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
		more, err := b.tweets.HasOlder(qctx, validIDs, minID, now.Add(-b.cfg.OlderWindow))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("probe older tweets: %w", err)
		}
		page.HasMore = more
	}
	return page, nil
}

func (b *Builder) gatherTweets(ctx context.Context, req Request, authorIDs []string, now time.Time) ([]*model.Tweet, error) {
	qctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()
	boundary := now.Add(-b.cfg.LatestWindow)
	if req.FeedType == FeedOlder {
		rows, err := b.tweets.OlderCandidates(qctx, authorIDs, req.LastTweetID, boundary,
			now.Add(-b.cfg.OlderWindow), b.cfg.OlderCandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("gather older candidates: %w", err)
		}
		return rows, nil
	}
	rows, err := b.tweets.LatestCandidates(qctx, authorIDs, boundary, b.cfg.LatestCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("gather latest candidates: %w", err)
	}
	return rows, nil
}

// assemble joins tweets with their signals, defaulting every missing signal
// to a zero value. Tweets whose author metadata is absent are dropped.
func assemble(tweets []*model.Tweet, authorMeta map[string]model.UserMeta, sig *Signals, affinities map[string]float64) []*Candidate {
	out := make([]*Candidate, 0, len(tweets))
	for _, t := range tweets {
		meta, ok := authorMeta[t.UserID]
		if !ok {
			continue
		}
		c := &Candidate{
			Tweet:    t,
			Author:   meta,
			Counts:   sig.Counts[t.ID],
			Flags:    sig.Flags[t.ID],
			Velocity: sig.Velocity[t.ID],
			Affinity: affinities[t.UserID],
		}
		if media, ok := sig.Media[t.ID]; ok {
			c.Media = media
		} else {
			c.Media = []MediaItem{}
		}
		out = append(out, c)
	}
	return out
}

func summarize(c *Candidate) TweetSummary {
	return TweetSummary{
		ID:        c.Tweet.ID,
		Author:    c.Author,
		Text:      c.Tweet.Text,
		Media:     c.Media,
		Counts:    c.Counts,
		Viewer:    c.Flags,
		Views:     c.Tweet.ViewCount,
		CreatedAt: c.Tweet.CreatedAt,
		EditedAt:  c.Tweet.EditedAt,
	}
}
