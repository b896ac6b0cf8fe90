package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
)

type env struct {
	db      *gorm.DB
	store   *cache.Store
	mr      *miniredis.Miniredis
	builder *Builder
	agg     *Aggregator
	est     *Estimator
	iv      *cache.Invalidator
	follows repository.FollowRepository
	users   repository.UserRepository
	tweets  repository.TweetRepository
	eng     repository.EngagementRepository
	cfg     config.FeedConfig
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.UserProfile{},
		&model.Follower{}, &model.FollowRequest{},
		&model.Tweet{}, &model.TweetMedia{},
		&model.TweetLike{}, &model.Comment{}, &model.CommentLike{},
		&model.Bookmark{}, &model.Share{},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := cache.NewStore(rdb, cache.NewAtomicMetrics())

	cfg := config.FeedConfig{
		QueryTimeout:           5 * time.Second,
		VelocityRecentWindow:   30 * time.Minute,
		VelocityPreviousWindow: time.Hour,
		LatestWindow:           24 * time.Hour,
		OlderWindow:            30 * 24 * time.Hour,
		LatestCandidateLimit:   2000,
		OlderCandidateLimit:    1000,
		FollowingLimit:         5000,
	}

	follows := repository.NewFollowRepository(db)
	users := repository.NewUserRepository(db)
	tweets := repository.NewTweetRepository(db)
	eng := repository.NewEngagementRepository(db)
	agg := NewAggregator(eng, tweets, store, cfg)
	est := NewEstimator(eng, store, cfg)

	return &env{
		db:      db,
		store:   store,
		mr:      mr,
		builder: NewBuilder(follows, users, tweets, agg, est, store, cfg),
		agg:     agg,
		est:     est,
		iv:      cache.NewInvalidator(store, follows),
		follows: follows,
		users:   users,
		tweets:  tweets,
		eng:     eng,
		cfg:     cfg,
	}
}

type userOpts struct {
	private bool
	blocked bool
	org     bool
	prime   bool
}

func (e *env) addUser(t *testing.T, id string, o userOpts) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.User{
		UserID:    id,
		Email:     id + "@test.local",
		IsPrivate: o.private,
		IsBlocked: o.blocked,
	}).Error)
	require.NoError(t, e.db.Create(&model.UserProfile{
		UserID:           id,
		Name:             "user " + id,
		IsOrganizational: o.org,
		IsPrime:          o.prime,
	}).Error)
}

func (e *env) addTweet(t *testing.T, author string, age time.Duration) int64 {
	t.Helper()
	tw := &model.Tweet{
		ID:        0,
		UserID:    author,
		Text:      "tweet by " + author,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, e.db.Create(tw).Error)
	return tw.ID
}

func (e *env) follow(t *testing.T, follower, followee string) {
	t.Helper()
	require.NoError(t, e.follows.Create(context.Background(), follower, followee))
}

func (e *env) like(t *testing.T, tweetID int64, userID string, age time.Duration) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.TweetLike{
		TweetID:   tweetID,
		UserID:    userID,
		CreatedAt: time.Now().Add(-age),
	}).Error)
}

func TestBuildLatestFromFollowedAuthors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.follow(t, "viewer", "friend")

	fresh1 := e.addTweet(t, "friend", time.Hour)
	fresh2 := e.addTweet(t, "friend", 2*time.Hour)
	// 超出 24h 窗口，不进 latest
	e.addTweet(t, "friend", 48*time.Hour)

	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	require.Len(t, page.Tweets, 2)

	got := map[int64]bool{}
	for _, tw := range page.Tweets {
		got[tw.ID] = true
	}
	assert.True(t, got[fresh1])
	assert.True(t, got[fresh2])
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
	assert.False(t, page.RefreshTimestamp.IsZero())
}

func TestBuildLastTweetIDIsPageMinimum(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.follow(t, "viewer", "friend")
	ids := []int64{
		e.addTweet(t, "friend", time.Hour),
		e.addTweet(t, "friend", 2*time.Hour),
		e.addTweet(t, "friend", 3*time.Hour),
	}

	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	assert.Equal(t, ids[0], page.LastTweetID)
}

func TestBuildExcludesBlockedAuthors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.addUser(t, "banned", userOpts{blocked: true})
	e.follow(t, "viewer", "friend")
	e.follow(t, "viewer", "banned")

	ok := e.addTweet(t, "friend", time.Hour)
	e.addTweet(t, "banned", time.Hour)

	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	require.Len(t, page.Tweets, 1)
	assert.Equal(t, ok, page.Tweets[0].ID)
}

func TestBuildPrivateAuthorVisibleToFollowersOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// 私密非组织账号只有粉丝能看到内容
	e.addUser(t, "insider", userOpts{})
	e.addUser(t, "outsider", userOpts{})
	e.addUser(t, "secret", userOpts{private: true, prime: true})
	e.follow(t, "insider", "secret")
	e.addTweet(t, "secret", time.Hour)

	req := Request{Page: 1, PageSize: 20, FeedType: FeedLatest, IncludeRecommendations: true}

	req.UserID = "insider"
	page, err := e.builder.Build(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.Tweets, 1)

	req.UserID = "outsider"
	page, err = e.builder.Build(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, page.Tweets)
}

func TestBuildOrganizationalBypassesPrivacy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "corp", userOpts{private: true, org: true, prime: true})
	e.addTweet(t, "corp", time.Hour)

	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
		IncludeRecommendations: true,
	})
	require.NoError(t, err)
	assert.Len(t, page.Tweets, 1)
}

func TestOrgPrimePoolRequiresBothFlags(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "orgonly", userOpts{org: true})
	e.addUser(t, "primeonly", userOpts{prime: true})
	e.addUser(t, "both", userOpts{org: true, prime: true})

	ids, err := e.users.OrgPrimeIDs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"both"}, ids)
}

func TestBuildRecommendationsToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "orgco", userOpts{org: true, prime: true})
	e.addTweet(t, "orgco", time.Hour)

	// 不关注任何人且关闭推荐：空页
	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Tweets)

	page, err = e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
		IncludeRecommendations: true,
	})
	require.NoError(t, err)
	assert.Len(t, page.Tweets, 1)
}

func TestBuildOlderWindowAndCursor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.follow(t, "viewer", "friend")

	// 按时间正序创建，保证 id 与 created_at 同向
	old3 := e.addTweet(t, "friend", 96*time.Hour)
	old2 := e.addTweet(t, "friend", 72*time.Hour)
	old1 := e.addTweet(t, "friend", 48*time.Hour)
	// latest 窗口内的 tweet 不进 older
	e.addTweet(t, "friend", time.Hour)

	req := Request{UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedOlder}
	page, err := e.builder.Build(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Tweets, 3)
	got := map[int64]bool{}
	for _, tw := range page.Tweets {
		got[tw.ID] = true
	}
	assert.True(t, got[old1] && got[old2] && got[old3])
	// 全部取回，向下再无内容
	assert.False(t, page.HasMore)

	// 游标翻页：只取 id 更小的
	req.LastTweetID = old2
	page, err = e.builder.Build(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Tweets, 1)
	assert.Equal(t, old3, page.Tweets[0].ID)
}

func TestBuildOlderHasMore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.follow(t, "viewer", "friend")
	e.addTweet(t, "friend", 96*time.Hour)
	e.addTweet(t, "friend", 72*time.Hour)
	e.addTweet(t, "friend", 48*time.Hour)

	// 单条一页：页底之下还有更旧内容
	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 1, FeedType: FeedOlder,
	})
	require.NoError(t, err)
	require.Len(t, page.Tweets, 1)
	assert.True(t, page.HasMore)
}

func TestBuildEmptyFeedShape(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "loner", userOpts{})

	page, err := e.builder.Build(context.Background(), Request{
		UserID: "loner", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	require.NotNil(t, page.Tweets)
	assert.Empty(t, page.Tweets)
	assert.Equal(t, 0, page.Total)
	assert.False(t, page.RefreshTimestamp.IsZero())
}

func TestBuildAttachesSignals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	e.follow(t, "viewer", "friend")
	tid := e.addTweet(t, "friend", time.Hour)
	require.NoError(t, e.db.Create(&model.TweetMedia{
		TweetID: tid, MediaType: "image", MediaPath: "/m/1.jpg",
	}).Error)
	e.like(t, tid, "viewer", time.Minute)

	page, err := e.builder.Build(ctx, Request{
		UserID: "viewer", Page: 1, PageSize: 20, FeedType: FeedLatest,
	})
	require.NoError(t, err)
	require.Len(t, page.Tweets, 1)
	tw := page.Tweets[0]
	assert.Equal(t, int64(1), tw.Counts.Likes)
	assert.True(t, tw.Viewer.Liked)
	require.Len(t, tw.Media, 1)
	assert.Equal(t, "image", tw.Media[0].Type)
	assert.Equal(t, "user friend", tw.Author.Name)
}

func TestCountsRecomputedAfterInvalidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	tid := e.addTweet(t, "friend", time.Hour)

	// 预热批量计数缓存
	counts, err := e.agg.Counts(ctx, "viewer", []int64{tid})
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[tid].Likes)

	require.NoError(t, e.eng.Like(ctx, tid, "viewer"))

	// 失效前仍读到旧值
	counts, err = e.agg.Counts(ctx, "viewer", []int64{tid})
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[tid].Likes)

	e.iv.TweetEngagement(ctx, tid)

	counts, err = e.agg.Counts(ctx, "viewer", []int64{tid})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[tid].Likes)
}

func TestVelocityFromLikeWindows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "friend", userOpts{})
	tid := e.addTweet(t, "friend", 3*time.Hour)

	// 近窗 2 个赞、前窗 1 个赞 → (2-1)/1 = 1
	e.like(t, tid, uuid.NewString(), 10*time.Minute)
	e.like(t, tid, uuid.NewString(), 15*time.Minute)
	e.like(t, tid, uuid.NewString(), 45*time.Minute)

	v, err := e.agg.Velocity(ctx, []int64{tid})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v[tid], 0.01)
}

func TestVelocityFirstActivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "friend", userOpts{})
	tid := e.addTweet(t, "friend", 3*time.Hour)

	// 前窗为零：velocity 等于近窗原始计数
	e.like(t, tid, uuid.NewString(), 5*time.Minute)
	e.like(t, tid, uuid.NewString(), 10*time.Minute)
	e.like(t, tid, uuid.NewString(), 20*time.Minute)

	v, err := e.agg.Velocity(ctx, []int64{tid})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v[tid], 0.01)
}

func TestVelocityPreviousWindowBoundary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "friend", userOpts{})
	tid := e.addTweet(t, "friend", 3*time.Hour)

	// 前窗是 [now-60m, now-30m]：75 分钟前的赞不计入，前窗为零
	e.like(t, tid, uuid.NewString(), 75*time.Minute)
	e.like(t, tid, uuid.NewString(), 10*time.Minute)
	e.like(t, tid, uuid.NewString(), 15*time.Minute)

	v, err := e.agg.Velocity(ctx, []int64{tid})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v[tid], 0.01)
}

func TestVelocityDecliningFloorsAtZero(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "friend", userOpts{})
	tid := e.addTweet(t, "friend", 3*time.Hour)

	e.like(t, tid, uuid.NewString(), 40*time.Minute)
	e.like(t, tid, uuid.NewString(), 50*time.Minute)

	v, err := e.agg.Velocity(ctx, []int64{tid})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v[tid])
}

func TestAffinityNormalizedByTopAuthor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "a", userOpts{})
	e.addUser(t, "b", userOpts{})
	for i := 0; i < 4; i++ {
		tid := e.addTweet(t, "a", time.Duration(i+1)*time.Hour)
		e.like(t, tid, "viewer", time.Hour)
	}
	for i := 0; i < 2; i++ {
		tid := e.addTweet(t, "b", time.Duration(i+1)*time.Hour)
		e.like(t, tid, "viewer", time.Hour)
	}

	aff, err := e.est.Affinities(ctx, "viewer", false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, aff["a"], 0.001)
	assert.InDelta(t, 0.5, aff["b"], 0.001)
}

func TestAffinityEmptyWithoutHistory(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "viewer", userOpts{})

	aff, err := e.est.Affinities(context.Background(), "viewer", false)
	require.NoError(t, err)
	assert.Empty(t, aff)
}

func TestGatherJoinsAllSignals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.addUser(t, "viewer", userOpts{})
	e.addUser(t, "friend", userOpts{})
	ids := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		ids = append(ids, e.addTweet(t, "friend", time.Duration(i+1)*time.Hour))
	}
	e.like(t, ids[0], "viewer", time.Minute)

	sig, err := e.agg.Gather(ctx, "viewer", ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sig.Counts[ids[0]].Likes)
	assert.True(t, sig.Flags[ids[0]].Liked)
	// 全部请求 id 均有计数条目，哪怕是零值
	for _, id := range ids {
		_, ok := sig.Counts[id]
		assert.True(t, ok, fmt.Sprintf("missing counts for %d", id))
	}
}

func TestIdsHashOrderIndependent(t *testing.T) {
	h1 := idsHash([]int64{3, 1, 2})
	h2 := idsHash([]int64{1, 2, 3})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 12)
	assert.NotEqual(t, h1, idsHash([]int64{1, 2, 4}))
}
