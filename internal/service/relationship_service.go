package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
	"github.com/cirkle/backend/pkg/apperrors"
)

// Follow 结果状态
const (
	FollowStateFollowing = "following"
	FollowStateRequested = "requested"
)

// RelationService 关系链服务：关注、请求审批、粉丝管理
type RelationService interface {
	Follow(ctx context.Context, followerID, followeeID string) (string, error)
	Unfollow(ctx context.Context, followerID, followeeID string) error
	AcceptRequest(ctx context.Context, followeeID, followerID string) error
	DeclineRequest(ctx context.Context, followeeID, followerID string) error
	ListPendingRequests(ctx context.Context, followeeID string, page, pageSize int) ([]*model.FollowRequest, error)
	RemoveFollower(ctx context.Context, userID, followerID string) error
	ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
}

type relationService struct {
	follows repository.FollowRepository
	users   repository.UserRepository
	inval   *cache.Invalidator
	worker  *InvalidationWorker
}

func NewRelationService(
	follows repository.FollowRepository,
	users repository.UserRepository,
	inval *cache.Invalidator,
	worker *InvalidationWorker,
) RelationService {
	return &relationService{follows: follows, users: users, inval: inval, worker: worker}
}

func (s *relationService) enqueueFollowInvalidation(name, followerID, followeeID string) {
	s.worker.Enqueue(name, func(ctx context.Context) {
		s.inval.Follow(ctx, followerID, followeeID)
	})
}

// Follow creates the edge, or a pending request when the followee is
// private and not organizational. Organizational accounts never gate.
func (s *relationService) Follow(ctx context.Context, followerID, followeeID string) (string, error) {
	if followerID == followeeID {
		return "", apperrors.Validation("cannot follow self")
	}
	target, err := s.users.GetByID(ctx, followeeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.NotFound("user not found")
		}
		return "", err
	}
	if target.IsBlocked {
		return "", apperrors.Validation("user is blocked")
	}
	if target.IsPrivate {
		profile, err := s.users.GetProfile(ctx, followeeID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
		if profile == nil || !profile.IsOrganizational {
			if err := s.follows.CreateRequest(ctx, followerID, followeeID); err != nil {
				return "", err
			}
			s.enqueueFollowInvalidation("follow_request", followerID, followeeID)
			return FollowStateRequested, nil
		}
	}
	if err := s.follows.Create(ctx, followerID, followeeID); err != nil {
		return "", err
	}
	s.enqueueFollowInvalidation("follow", followerID, followeeID)
	return FollowStateFollowing, nil
}

func (s *relationService) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if err := s.follows.Delete(ctx, followerID, followeeID); err != nil {
		return err
	}
	s.enqueueFollowInvalidation("unfollow", followerID, followeeID)
	return nil
}

func (s *relationService) AcceptRequest(ctx context.Context, followeeID, followerID string) error {
	status, err := s.follows.RequestStatus(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	if status != model.FollowRequestPending {
		return apperrors.NotFound("no pending follow request")
	}
	if err := s.follows.ResolveRequest(ctx, followerID, followeeID, model.FollowRequestAccepted); err != nil {
		return err
	}
	if err := s.follows.Create(ctx, followerID, followeeID); err != nil {
		return err
	}
	s.enqueueFollowInvalidation("accept_request", followerID, followeeID)
	return nil
}

func (s *relationService) DeclineRequest(ctx context.Context, followeeID, followerID string) error {
	status, err := s.follows.RequestStatus(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	if status != model.FollowRequestPending {
		return apperrors.NotFound("no pending follow request")
	}
	if err := s.follows.ResolveRequest(ctx, followerID, followeeID, model.FollowRequestDeclined); err != nil {
		return err
	}
	s.enqueueFollowInvalidation("decline_request", followerID, followeeID)
	return nil
}

func (s *relationService) ListPendingRequests(ctx context.Context, followeeID string, page, pageSize int) ([]*model.FollowRequest, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.follows.ListPendingRequests(ctx, followeeID, (page-1)*pageSize, pageSize)
}

func (s *relationService) RemoveFollower(ctx context.Context, userID, followerID string) error {
	if err := s.follows.Delete(ctx, followerID, userID); err != nil {
		return err
	}
	s.worker.Enqueue("remove_follower", func(ctx context.Context) {
		s.inval.FollowerRemoval(ctx, userID, followerID)
	})
	return nil
}

func (s *relationService) ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	items, err := s.follows.ListFollowers(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FollowerID
	}
	return res, nil
}

func (s *relationService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	ids, err := s.follows.FollowingIDs(ctx, userID, pageSize*page)
	if err != nil {
		return nil, err
	}
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return []string{}, nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end], nil
}
