package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
	"github.com/cirkle/backend/pkg/apperrors"
)

// UserService 账户与管理端操作：资料更新、封禁、级联删除
type UserService interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, profile *model.UserProfile) error
	Block(ctx context.Context, userID string, until *time.Time) error
	Unblock(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
	RefreshFollowerFeeds(ctx context.Context, userID string) error
}

type userService struct {
	users   repository.UserRepository
	tweets  repository.TweetRepository
	follows repository.FollowRepository
	store   *cache.Store
	inval   *cache.Invalidator
	worker  *InvalidationWorker
}

func NewUserService(
	users repository.UserRepository,
	tweets repository.TweetRepository,
	follows repository.FollowRepository,
	store *cache.Store,
	inval *cache.Invalidator,
	worker *InvalidationWorker,
) UserService {
	return &userService{users: users, tweets: tweets, follows: follows, store: store, inval: inval, worker: worker}
}

// GetProfile reads through the profile cache.
func (s *userService) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	key, kerr := cache.Key(cache.KeyProfile, userID, "self")
	if kerr == nil {
		var cached model.UserProfile
		if s.store.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("profile not found")
		}
		return nil, err
	}
	if kerr == nil {
		s.store.Set(ctx, key, profile, cache.TTLFor(cache.ClassProfile, 0, false))
	}
	return profile, nil
}

func (s *userService) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	if profile.Name == "" {
		return apperrors.Validation("profile name is empty")
	}
	if err := s.users.UpdateProfile(ctx, profile); err != nil {
		return err
	}
	userID := profile.UserID
	s.worker.Enqueue("update_profile", func(ctx context.Context) {
		s.inval.Profile(ctx, userID)
		s.inval.GlobalRecommendations(ctx)
	})
	return nil
}

func (s *userService) Block(ctx context.Context, userID string, until *time.Time) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("user not found")
		}
		return err
	}
	if err := s.users.SetBlocked(ctx, userID, true, until); err != nil {
		return err
	}
	s.worker.Enqueue("block_user", func(ctx context.Context) {
		s.inval.FullUser(ctx, userID)
		s.inval.FeedForFollowers(ctx, userID)
	})
	return nil
}

func (s *userService) Unblock(ctx context.Context, userID string) error {
	if err := s.users.SetBlocked(ctx, userID, false, nil); err != nil {
		return err
	}
	s.worker.Enqueue("unblock_user", func(ctx context.Context) {
		s.inval.FullUser(ctx, userID)
		s.inval.FeedForFollowers(ctx, userID)
	})
	return nil
}

// RefreshFollowerFeeds drops the feed caches of every follower of the user.
// Background job entry: the fan-out itself runs on the worker.
func (s *userService) RefreshFollowerFeeds(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("user not found")
		}
		return err
	}
	s.worker.Enqueue("refresh_follower_feeds", func(ctx context.Context) {
		s.inval.FeedForFollowers(ctx, userID)
	})
	return nil
}

// DeleteUser cascades: tweets with their engagement, every follow edge on
// either side, profile, account row. The follower list is captured before
// the edges disappear so their feeds can still be invalidated; that capture
// is capped, the edge deletion itself is not.
func (s *userService) DeleteUser(ctx context.Context, userID string) error {
	followerIDs, err := s.follows.FollowerIDs(ctx, userID, 10000)
	if err != nil {
		return err
	}
	if _, err := s.tweets.DeleteByAuthor(ctx, userID); err != nil {
		return err
	}
	if err := s.follows.DeleteAllEdgesFor(ctx, userID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.worker.Enqueue("delete_user", func(ctx context.Context) {
		s.inval.FullUser(ctx, userID)
		for _, fid := range followerIDs {
			s.inval.UserFeed(ctx, fid)
		}
	})
	return nil
}
