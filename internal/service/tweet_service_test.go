package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
	"github.com/cirkle/backend/pkg/apperrors"
)

type svcEnv struct {
	db         *gorm.DB
	store      *cache.Store
	worker     *InvalidationWorker
	tweetsSvc  TweetService
	relSvc     RelationService
	usersSvc   UserService
	userRepo   repository.UserRepository
	tweetRepo  repository.TweetRepository
	followRepo repository.FollowRepository
	engRepo    repository.EngagementRepository
}

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.UserProfile{},
		&model.Follower{}, &model.FollowRequest{},
		&model.Tweet{}, &model.TweetMedia{},
		&model.TweetLike{}, &model.Comment{}, &model.CommentLike{},
		&model.Bookmark{}, &model.Share{},
		&model.TweetReport{}, &model.CommentReport{},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := cache.NewStore(rdb, cache.NewAtomicMetrics())

	userRepo := repository.NewUserRepository(db)
	tweetRepo := repository.NewTweetRepository(db)
	followRepo := repository.NewFollowRepository(db)
	engRepo := repository.NewEngagementRepository(db)
	inval := cache.NewInvalidator(store, followRepo)

	worker := NewInvalidationWorker(256)
	stop := worker.Start(1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = stop(ctx)
	})

	return &svcEnv{
		db:         db,
		store:      store,
		worker:     worker,
		tweetsSvc:  NewTweetService(tweetRepo, engRepo, followRepo, userRepo, inval, worker),
		relSvc:     NewRelationService(followRepo, userRepo, inval, worker),
		usersSvc:   NewUserService(userRepo, tweetRepo, followRepo, store, inval, worker),
		userRepo:   userRepo,
		tweetRepo:  tweetRepo,
		followRepo: followRepo,
		engRepo:    engRepo,
	}
}

func (e *svcEnv) addUser(t *testing.T, id string, private, blocked bool) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.User{
		UserID: id, Email: id + "@test.local", IsPrivate: private, IsBlocked: blocked,
	}).Error)
	require.NoError(t, e.db.Create(&model.UserProfile{
		UserID: id, Name: "user " + id,
	}).Error)
}

func (e *svcEnv) postTweet(t *testing.T, author string) int64 {
	t.Helper()
	tw, err := e.tweetsSvc.Post(context.Background(), author, "hello from "+author, nil)
	require.NoError(t, err)
	return tw.ID
}

func TestPostValidatesText(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)

	_, err := e.tweetsSvc.Post(ctx, "u1", "   ", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = e.tweetsSvc.Post(ctx, "u1", strings.Repeat("x", model.MaxTweetTextLen+1), nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPostLimitsMediaCount(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "u1", false, false)

	media := make([]MediaInput, model.MaxTweetMedia+1)
	for i := range media {
		media[i] = MediaInput{Type: "image", Path: "/m/x.jpg"}
	}
	_, err := e.tweetsSvc.Post(context.Background(), "u1", "too many", media)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPostRejectsBlockedUser(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "banned", false, true)

	_, err := e.tweetsSvc.Post(context.Background(), "banned", "hi", nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestPostLiftsExpiredBlock(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, e.userRepo.SetBlocked(ctx, "u1", true, &past))

	_, err := e.tweetsSvc.Post(ctx, "u1", "back again", nil)
	require.NoError(t, err)

	u, err := e.userRepo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.IsBlocked)
}

func TestPostPersistsTweetWithMedia(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)

	tw, err := e.tweetsSvc.Post(ctx, "u1", "  with media  ", []MediaInput{
		{Type: "image", Path: "/m/1.jpg"},
		{Type: "video", Path: "/m/2.mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "with media", tw.Text)

	media, err := e.tweetRepo.MediaByTweetIDs(ctx, []int64{tw.ID})
	require.NoError(t, err)
	assert.Len(t, media[tw.ID], 2)
}

func TestEditRequiresOwnership(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	e.addUser(t, "other", false, false)
	tid := e.postTweet(t, "author")

	err := e.tweetsSvc.Edit(ctx, "other", tid, "hijack")
	assert.True(t, apperrors.IsValidation(err))

	require.NoError(t, e.tweetsSvc.Edit(ctx, "author", tid, "edited"))
	tw, err := e.tweetRepo.GetByID(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, "edited", tw.Text)
	assert.NotNil(t, tw.EditedAt)
}

func TestDeleteCascadesEngagement(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	e.addUser(t, "fan", false, false)
	tid := e.postTweet(t, "author")
	require.NoError(t, e.tweetsSvc.Like(ctx, "fan", tid))
	_, err := e.tweetsSvc.Comment(ctx, "fan", tid, nil, "nice")
	require.NoError(t, err)

	require.NoError(t, e.tweetsSvc.Delete(ctx, "author", tid))

	_, err = e.tweetRepo.GetByID(ctx, tid)
	assert.Error(t, err)
	var likes int64
	e.db.Model(&model.TweetLike{}).Where("tweet_id = ?", tid).Count(&likes)
	assert.Zero(t, likes)
	var comments int64
	e.db.Model(&model.Comment{}).Where("tweet_id = ?", tid).Count(&comments)
	assert.Zero(t, comments)
}

func TestLikeUnknownTweet(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "u1", false, false)

	err := e.tweetsSvc.Like(context.Background(), "u1", 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestShareRequiresMutualFollowers(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "sender", false, false)
	e.addUser(t, "oneway", false, false)
	e.addUser(t, "mutual", false, false)
	tid := e.postTweet(t, "sender")

	// 单向关注不够
	require.NoError(t, e.followRepo.Create(ctx, "oneway", "sender"))
	err := e.tweetsSvc.Share(ctx, "sender", tid, []string{"oneway"}, "")
	assert.True(t, apperrors.IsValidation(err))

	require.NoError(t, e.followRepo.Create(ctx, "mutual", "sender"))
	require.NoError(t, e.followRepo.Create(ctx, "sender", "mutual"))
	require.NoError(t, e.tweetsSvc.Share(ctx, "sender", tid, []string{"mutual"}, "check this"))

	var shares int64
	e.db.Model(&model.Share{}).Where("tweet_id = ?", tid).Count(&shares)
	assert.Equal(t, int64(1), shares)
}

func TestShareToSelf(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "u1", false, false)
	tid := e.postTweet(t, "u1")

	err := e.tweetsSvc.Share(context.Background(), "u1", tid, []string{"u1"}, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCommentReplyDepthLimit(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	e.addUser(t, "fan", false, false)
	tid := e.postTweet(t, "author")

	top, err := e.tweetsSvc.Comment(ctx, "fan", tid, nil, "top level")
	require.NoError(t, err)
	reply, err := e.tweetsSvc.Comment(ctx, "fan", tid, &top.ID, "a reply")
	require.NoError(t, err)

	// 只允许一层回复
	_, err = e.tweetsSvc.Comment(ctx, "fan", tid, &reply.ID, "reply to reply")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCommentParentFromOtherTweet(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	t1 := e.postTweet(t, "author")
	t2 := e.postTweet(t, "author")

	top, err := e.tweetsSvc.Comment(ctx, "author", t1, nil, "on t1")
	require.NoError(t, err)

	_, err = e.tweetsSvc.Comment(ctx, "author", t2, &top.ID, "wrong thread")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCommentTextBounds(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)
	tid := e.postTweet(t, "u1")

	_, err := e.tweetsSvc.Comment(ctx, "u1", tid, nil, "")
	assert.True(t, apperrors.IsValidation(err))
	_, err = e.tweetsSvc.Comment(ctx, "u1", tid, nil, strings.Repeat("y", model.MaxCommentTextLen+1))
	assert.True(t, apperrors.IsValidation(err))
}

func TestDeleteCommentRemovesReplies(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)
	tid := e.postTweet(t, "u1")
	top, err := e.tweetsSvc.Comment(ctx, "u1", tid, nil, "top")
	require.NoError(t, err)
	_, err = e.tweetsSvc.Comment(ctx, "u1", tid, &top.ID, "child")
	require.NoError(t, err)

	require.NoError(t, e.tweetsSvc.DeleteComment(ctx, "u1", top.ID))
	var cnt int64
	e.db.Model(&model.Comment{}).Where("tweet_id = ?", tid).Count(&cnt)
	assert.Zero(t, cnt)
}

func TestReportTweetKeepsSnapshot(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	e.addUser(t, "reporter", false, false)
	tid := e.postTweet(t, "author")

	require.NoError(t, e.tweetsSvc.ReportTweet(ctx, "reporter", tid, "spam"))

	var report model.TweetReport
	require.NoError(t, e.db.Where("tweet_id = ?", tid).First(&report).Error)
	assert.Equal(t, "reporter", report.UserID)
	// 快照里要能看到原文，便于内容被删后审计
	assert.Contains(t, report.Snapshot, "hello from author")
}

func TestReportRequiresReason(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "author", false, false)
	e.addUser(t, "reporter", false, false)
	tid := e.postTweet(t, "author")

	err := e.tweetsSvc.ReportTweet(context.Background(), "reporter", tid, "  ")
	assert.True(t, apperrors.IsValidation(err))
}

func TestReportOwnContentRejected(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	tid := e.postTweet(t, "author")
	c, err := e.tweetsSvc.Comment(ctx, "author", tid, nil, "my own take")
	require.NoError(t, err)

	err = e.tweetsSvc.ReportTweet(ctx, "author", tid, "spam")
	assert.True(t, apperrors.IsValidation(err))
	err = e.tweetsSvc.ReportComment(ctx, "author", c.ID, "spam")
	assert.True(t, apperrors.IsValidation(err))

	var reports int64
	e.db.Model(&model.TweetReport{}).Count(&reports)
	assert.Zero(t, reports)
}
