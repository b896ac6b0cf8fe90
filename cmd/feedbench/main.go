package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/feed"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
)

type request struct {
	userID string
	page   int
	size   int
}

func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=postgres port=5434 sslmode=disable"
	}
	db := must(gorm.Open(postgres.Open(dsn), &gorm.Config{}))

	for _, table := range []string{"tweet_likes", "tweet_media", "tweets", "followers", "user_profiles", "users"} {
		mustDo(db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE").Error)
	}
	mustDo(db.AutoMigrate(
		&model.User{}, &model.UserProfile{},
		&model.Tweet{}, &model.TweetMedia{}, &model.TweetLike{},
		&model.Follower{},
	))

	const (
		userCount     = 5000
		followsPerUsr = 50
		tweetsPerUsr  = 10
		viewerCount   = 200
		requestCount  = 3000
	)

	fmt.Println("Seeding benchmark data...")
	rnd := rand.New(rand.NewSource(42))
	base := time.Now()

	users := make([]model.User, userCount)
	profiles := make([]model.UserProfile, userCount)
	for i := 0; i < userCount; i++ {
		id := uuid.NewString()
		users[i] = model.User{UserID: id, Email: fmt.Sprintf("user_%d@example.com", i)}
		profiles[i] = model.UserProfile{
			UserID:           id,
			Name:             fmt.Sprintf("user_%d", i),
			IsOrganizational: i%50 == 0,
			IsPrime:          i%40 == 0,
		}
	}
	mustDo(db.CreateInBatches(&users, 1000).Error)
	mustDo(db.CreateInBatches(&profiles, 1000).Error)

	follows := make([]model.Follower, 0, viewerCount*followsPerUsr)
	for i := 0; i < viewerCount; i++ {
		for j := 0; j < followsPerUsr; j++ {
			follows = append(follows, model.Follower{
				ID:         uuid.NewString(),
				FollowerID: users[i].UserID,
				FolloweeID: users[rnd.Intn(userCount)].UserID,
			})
		}
	}
	mustDo(db.CreateInBatches(&follows, 1000).Error)

	tweets := make([]model.Tweet, 0, userCount*tweetsPerUsr)
	for i := 0; i < userCount; i++ {
		for j := 0; j < tweetsPerUsr; j++ {
			tweets = append(tweets, model.Tweet{
				UserID:    users[i].UserID,
				Text:      fmt.Sprintf("tweet %d from user %d", j, i),
				ViewCount: int64(rnd.Intn(200)),
				CreatedAt: base.Add(-time.Duration(rnd.Intn(23*3600)) * time.Second),
			})
		}
	}
	mustDo(db.CreateInBatches(&tweets, 1000).Error)

	likes := make([]model.TweetLike, 0, len(tweets))
	for i := range tweets {
		if rnd.Float64() < 0.3 {
			likes = append(likes, model.TweetLike{
				TweetID:   tweets[i].ID,
				UserID:    users[rnd.Intn(userCount)].UserID,
				CreatedAt: base.Add(-time.Duration(rnd.Intn(3600)) * time.Second),
			})
		}
	}
	mustDo(db.CreateInBatches(&likes, 1000).Error)
	fmt.Printf("Seeded %d users, %d follows, %d tweets, %d likes\n", userCount, len(follows), len(tweets), len(likes))

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6380"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	mustDo(client.Ping(ctx).Err())

	metrics := cache.NewAtomicMetrics()
	store := cache.NewStore(client, metrics)

	feedCfg := config.FeedConfig{
		QueryTimeout:           5 * time.Second,
		VelocityRecentWindow:   30 * time.Minute,
		VelocityPreviousWindow: time.Hour,
		LatestWindow:           24 * time.Hour,
		OlderWindow:            30 * 24 * time.Hour,
		LatestCandidateLimit:   2000,
		OlderCandidateLimit:    1000,
		FollowingLimit:         5000,
	}

	followRepo := repository.NewFollowRepository(db)
	userRepo := repository.NewUserRepository(db)
	tweetRepo := repository.NewTweetRepository(db)
	engRepo := repository.NewEngagementRepository(db)
	agg := feed.NewAggregator(engRepo, tweetRepo, store, feedCfg)
	est := feed.NewEstimator(engRepo, store, feedCfg)
	builder := feed.NewBuilder(followRepo, userRepo, tweetRepo, agg, est, store, feedCfg)
	orch := feed.NewOrchestrator(store, builder)

	reqs := make([]request, requestCount)
	sizes := []int{20, 40}
	for i := range reqs {
		page := 1
		if rnd.Float64() > 0.7 {
			page = 2 + rnd.Intn(4)
		}
		reqs[i] = request{
			userID: users[rnd.Intn(viewerCount)].UserID,
			page:   page,
			size:   sizes[rnd.Intn(len(sizes))],
		}
	}

	cold := run(ctx, orch, client, metrics, reqs, false)
	warm := run(ctx, orch, client, metrics, reqs, true)

	fmt.Printf("\nFeed build latency (%d req, %d viewers, PostgreSQL + Redis)\n", requestCount, viewerCount)
	report("Cold cache", cold)
	report("Warm cache", warm)
}

type scenarioResult struct {
	durations []time.Duration
	snapshot  cache.MetricsSnapshot
}

func report(name string, r scenarioResult) {
	fmt.Printf("%-12s avg=%v p95=%v p99=%v hits=%d misses=%d hit_ratio=%.2f\n",
		name, avg(r.durations), pct(r.durations, 0.95), pct(r.durations, 0.99),
		r.snapshot.Hits, r.snapshot.Misses, r.snapshot.HitRatio)
}

func run(ctx context.Context, orch *feed.Orchestrator, client *redis.Client, metrics *cache.AtomicMetrics, reqs []request, warm bool) scenarioResult {
	client.FlushAll(ctx)
	metrics.Reset()

	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range reqs {
			mustGet(ctx, orch, r)
		}
		fmt.Println(" done")
		metrics.Reset()
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		mustGet(ctx, orch, r)
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")
	return scenarioResult{durations: out, snapshot: metrics.Snapshot()}
}

func mustGet(ctx context.Context, orch *feed.Orchestrator, r request) {
	_, err := orch.Get(ctx, feed.Request{
		UserID:                 r.userID,
		Page:                   r.page,
		PageSize:               r.size,
		FeedType:               feed.FeedLatest,
		IncludeRecommendations: true,
	})
	if err != nil {
		panic(err)
	}
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
