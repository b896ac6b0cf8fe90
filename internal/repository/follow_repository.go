package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cirkle/backend/internal/model"
)

type FollowRepository interface {
	Create(ctx context.Context, followerID, followeeID string) error
	Delete(ctx context.Context, followerID, followeeID string) error
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	AreMutual(ctx context.Context, userA, userB string) (bool, error)
	FollowingIDs(ctx context.Context, followerID string, limit int) ([]string, error)
	FollowerIDs(ctx context.Context, followeeID string, limit int) ([]string, error)
	ListFollowers(ctx context.Context, followeeID string, offset, limit int) ([]*model.Follower, error)
	CountFollowers(ctx context.Context, followeeID string) (int64, error)
	CountFollowing(ctx context.Context, followerID string) (int64, error)

	CreateRequest(ctx context.Context, followerID, followeeID string) error
	RequestStatus(ctx context.Context, followerID, followeeID string) (string, error)
	ResolveRequest(ctx context.Context, followerID, followeeID, status string) error
	ListPendingRequests(ctx context.Context, followeeID string, offset, limit int) ([]*model.FollowRequest, error)
	DeleteEdgesBetween(ctx context.Context, userA, userB string) error
	DeleteAllEdgesFor(ctx context.Context, userID string) error
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) Create(ctx context.Context, followerID, followeeID string) error {
	f := &model.Follower{ID: uuid.New().String(), FollowerID: followerID, FolloweeID: followeeID}
	// 幂等：重复关注不报错
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error
}

func (r *followRepository) Delete(ctx context.Context, followerID, followeeID string) error {
	return r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&model.Follower{}).Error
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follower{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// AreMutual reports whether both directed edges exist.
func (r *followRepository) AreMutual(ctx context.Context, userA, userB string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follower{}).
		Where("(follower_id = ? AND followee_id = ?) OR (follower_id = ? AND followee_id = ?)",
			userA, userB, userB, userA).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt == 2, nil
}

func (r *followRepository) FollowingIDs(ctx context.Context, followerID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Follower{}).
		Where("follower_id = ?", followerID).
		Limit(limit).
		Pluck("followee_id", &ids).Error
	return ids, err
}

func (r *followRepository) FollowerIDs(ctx context.Context, followeeID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Follower{}).
		Where("followee_id = ?", followeeID).
		Limit(limit).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *followRepository) ListFollowers(ctx context.Context, followeeID string, offset, limit int) ([]*model.Follower, error) {
	var res []*model.Follower
	err := r.db.WithContext(ctx).
		Where("followee_id = ?", followeeID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *followRepository) CountFollowers(ctx context.Context, followeeID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Follower{}).Where("followee_id = ?", followeeID).Count(&cnt).Error
	return cnt, err
}

func (r *followRepository) CountFollowing(ctx context.Context, followerID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Follower{}).Where("follower_id = ?", followerID).Count(&cnt).Error
	return cnt, err
}

func (r *followRepository) CreateRequest(ctx context.Context, followerID, followeeID string) error {
	req := &model.FollowRequest{
		ID:         uuid.New().String(),
		FollowerID: followerID,
		FolloweeID: followeeID,
		Status:     model.FollowRequestPending,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(req).Error
}

func (r *followRepository) RequestStatus(ctx context.Context, followerID, followeeID string) (string, error) {
	var req model.FollowRequest
	err := r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		First(&req).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return req.Status, nil
}

func (r *followRepository) ResolveRequest(ctx context.Context, followerID, followeeID, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.FollowRequest{}).
		Where("follower_id = ? AND followee_id = ? AND status = ?",
			followerID, followeeID, model.FollowRequestPending).
		Update("status", status).Error
}

func (r *followRepository) ListPendingRequests(ctx context.Context, followeeID string, offset, limit int) ([]*model.FollowRequest, error) {
	var res []*model.FollowRequest
	err := r.db.WithContext(ctx).
		Where("followee_id = ? AND status = ?", followeeID, model.FollowRequestPending).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// DeleteEdgesBetween removes every follow edge and request between two users
// in both directions. Used by block.
func (r *followRepository) DeleteEdgesBetween(ctx context.Context, userA, userB string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pair := "(follower_id = ? AND followee_id = ?) OR (follower_id = ? AND followee_id = ?)"
		if err := tx.Where(pair, userA, userB, userB, userA).Delete(&model.Follower{}).Error; err != nil {
			return err
		}
		return tx.Where(pair, userA, userB, userB, userA).Delete(&model.FollowRequest{}).Error
	})
}

// DeleteAllEdgesFor removes every edge and request the user appears in, on
// either side. Used by account deletion.
func (r *followRepository) DeleteAllEdgesFor(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cond := "follower_id = ? OR followee_id = ?"
		if err := tx.Where(cond, userID, userID).Delete(&model.Follower{}).Error; err != nil {
			return err
		}
		return tx.Where(cond, userID, userID).Delete(&model.FollowRequest{}).Error
	})
}
