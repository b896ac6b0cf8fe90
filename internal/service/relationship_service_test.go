package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/pkg/apperrors"
)

func TestFollowPublicCreatesEdge(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "b", false, false)

	state, err := e.relSvc.Follow(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, FollowStateFollowing, state)

	ok, err := e.followRepo.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFollowIsIdempotent(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "b", false, false)

	_, err := e.relSvc.Follow(ctx, "a", "b")
	require.NoError(t, err)
	_, err = e.relSvc.Follow(ctx, "a", "b")
	require.NoError(t, err)

	cnt, err := e.followRepo.CountFollowing(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cnt)
}

func TestFollowSelf(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "a", false, false)

	_, err := e.relSvc.Follow(context.Background(), "a", "a")
	assert.True(t, apperrors.IsValidation(err))
}

func TestFollowUnknownUser(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "a", false, false)

	_, err := e.relSvc.Follow(context.Background(), "a", "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFollowBlockedTarget(t *testing.T) {
	e := newSvcEnv(t)
	e.addUser(t, "a", false, false)
	e.addUser(t, "banned", false, true)

	_, err := e.relSvc.Follow(context.Background(), "a", "banned")
	assert.True(t, apperrors.IsValidation(err))
}

func TestFollowPrivateCreatesRequest(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "priv", true, false)

	state, err := e.relSvc.Follow(ctx, "a", "priv")
	require.NoError(t, err)
	assert.Equal(t, FollowStateRequested, state)

	// 审批前没有关注边
	ok, err := e.followRepo.Exists(ctx, "a", "priv")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := e.relSvc.ListPendingRequests(ctx, "priv", 1, 20)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].FollowerID)
}

func TestFollowPrivateOrganizationalDirect(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "corp", true, false)
	require.NoError(t, e.db.Model(&model.UserProfile{}).
		Where("user_id = ?", "corp").
		Update("is_organizational", true).Error)

	// 机构账号即使私密也直接通过
	state, err := e.relSvc.Follow(ctx, "a", "corp")
	require.NoError(t, err)
	assert.Equal(t, FollowStateFollowing, state)
}

func TestAcceptRequestCreatesEdge(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "priv", true, false)
	_, err := e.relSvc.Follow(ctx, "a", "priv")
	require.NoError(t, err)

	require.NoError(t, e.relSvc.AcceptRequest(ctx, "priv", "a"))

	ok, err := e.followRepo.Exists(ctx, "a", "priv")
	require.NoError(t, err)
	assert.True(t, ok)

	// 不能对同一请求再次审批
	err = e.relSvc.AcceptRequest(ctx, "priv", "a")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeclineRequestLeavesNoEdge(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "priv", true, false)
	_, err := e.relSvc.Follow(ctx, "a", "priv")
	require.NoError(t, err)

	require.NoError(t, e.relSvc.DeclineRequest(ctx, "priv", "a"))

	ok, err := e.followRepo.Exists(ctx, "a", "priv")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := e.relSvc.ListPendingRequests(ctx, "priv", 1, 20)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUnfollowRemovesEdge(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "a", false, false)
	e.addUser(t, "b", false, false)
	_, err := e.relSvc.Follow(ctx, "a", "b")
	require.NoError(t, err)

	require.NoError(t, e.relSvc.Unfollow(ctx, "a", "b"))
	ok, err := e.followRepo.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveFollower(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "star", false, false)
	e.addUser(t, "fan", false, false)
	_, err := e.relSvc.Follow(ctx, "fan", "star")
	require.NoError(t, err)

	require.NoError(t, e.relSvc.RemoveFollower(ctx, "star", "fan"))
	ok, err := e.followRepo.Exists(ctx, "fan", "star")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFollowersAndFollowing(t *testing.T) {
	e := newSvcEnv(t)
	ctx := context.Background()
	e.addUser(t, "hub", false, false)
	for _, id := range []string{"f1", "f2", "f3"} {
		e.addUser(t, id, false, false)
		_, err := e.relSvc.Follow(ctx, id, "hub")
		require.NoError(t, err)
	}
	_, err := e.relSvc.Follow(ctx, "hub", "f1")
	require.NoError(t, err)

	followers, err := e.relSvc.ListFollowers(ctx, "hub", 1, 10)
	require.NoError(t, err)
	assert.Len(t, followers, 3)

	following, err := e.relSvc.ListFollowing(ctx, "hub", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, following)
}
