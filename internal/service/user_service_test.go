package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/pkg/apperrors"
)

func TestGetProfileReadsThroughCache(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)

	p, err := e.usersSvc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "user u1", p.Name)

	// 数据库里删掉后仍从缓存可读
	require.NoError(t, e.db.Where("user_id = ?", "u1").Delete(&model.UserProfile{}).Error)
	p, err = e.usersSvc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "user u1", p.Name)
}

func TestGetProfileNotFound(t *testing.T) {
	e := newSvcEnv(t)
	_, err := e.usersSvc.GetProfile(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateProfileValidatesName(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "u1", false, false)

	err := e.usersSvc.UpdateProfile(context.Background(), &model.UserProfile{UserID: "u1", Name: ""})
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateProfileUpserts(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)

	require.NoError(t, e.usersSvc.UpdateProfile(ctx, &model.UserProfile{
		UserID: "u1", Name: "renamed", Bio: "new bio",
	}))

	p, err := e.userRepo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Name)
	assert.Equal(t, "new bio", p.Bio)
}

func TestBlockUnknownUser(t *testing.T) {
	e := newSvcEnv(t)
	err := e.usersSvc.Block(context.Background(), "ghost", nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBlockAndUnblock(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "u1", false, false)

	until := time.Now().Add(time.Hour)
	require.NoError(t, e.usersSvc.Block(ctx, "u1", &until))
	u, err := e.userRepo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsBlocked)
	require.NotNil(t, u.BlockUntil)

	require.NoError(t, e.usersSvc.Unblock(ctx, "u1"))
	u, err = e.userRepo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.IsBlocked)
	assert.Nil(t, u.BlockUntil)
}

func TestRefreshFollowerFeedsDropsFollowerCaches(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "author", false, false)
	e.addUser(t, "fan", false, false)
	require.NoError(t, e.followRepo.Create(ctx, "fan", "author"))

	key, err := cache.Key(cache.KeyFeed, "fan", "p1")
	require.NoError(t, err)
	e.store.Set(ctx, key, "cached page", time.Minute)

	require.NoError(t, e.usersSvc.RefreshFollowerFeeds(ctx, "author"))
	// 失效跑在异步 worker 上
	assert.Eventually(t, func() bool {
		var s string
		return !e.store.Get(ctx, key, &s)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRefreshFollowerFeedsUnknownUser(t *testing.T) {
	e := newSvcEnv(t)
	err := e.usersSvc.RefreshFollowerFeeds(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteUserCascades(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "victim", false, false)
	e.addUser(t, "fan", false, false)
	e.addUser(t, "stranger", false, false)
	e.addUser(t, "gated", true, false)

	tid := e.postTweet(t, "victim")
	require.NoError(t, e.tweetsSvc.Like(ctx, "fan", tid))
	_, err := e.relSvc.Follow(ctx, "fan", "victim")
	require.NoError(t, err)
	// 单向出边：对方并不回关
	_, err = e.relSvc.Follow(ctx, "victim", "stranger")
	require.NoError(t, err)
	// 对私密账号的待处理请求
	_, err = e.relSvc.Follow(ctx, "victim", "gated")
	require.NoError(t, err)

	require.NoError(t, e.usersSvc.DeleteUser(ctx, "victim"))

	_, err = e.userRepo.GetByID(ctx, "victim")
	assert.Error(t, err)
	var tweets int64
	e.db.Model(&model.Tweet{}).Where("user_id = ?", "victim").Count(&tweets)
	assert.Zero(t, tweets)
	var likes int64
	e.db.Model(&model.TweetLike{}).Where("tweet_id = ?", tid).Count(&likes)
	assert.Zero(t, likes)
	var edges int64
	e.db.Model(&model.Follower{}).Where("followee_id = ? OR follower_id = ?", "victim", "victim").Count(&edges)
	assert.Zero(t, edges)
	var requests int64
	e.db.Model(&model.FollowRequest{}).Where("followee_id = ? OR follower_id = ?", "victim", "victim").Count(&requests)
	assert.Zero(t, requests)
	// 粉丝自身账号不受影响
	_, err = e.userRepo.GetByID(ctx, "fan")
	assert.NoError(t, err)
}
