package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cirkle/backend/internal/model"
)

type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*model.User, error)
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	MetaByIDs(ctx context.Context, userIDs []string) (map[string]model.UserMeta, error)
	OrgPrimeIDs(ctx context.Context, limit int) ([]string, error)
	FallbackIDs(ctx context.Context, limit int) ([]string, error)
	SetBlocked(ctx context.Context, userID string, blocked bool, until *time.Time) error
	ClearExpiredBlock(ctx context.Context, userID string, now time.Time) (bool, error)
	UpdateProfile(ctx context.Context, profile *model.UserProfile) error
	Delete(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, offset, limit int) ([]*model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// metaRow 扁平化 join 结果
type metaRow struct {
	UserID           string
	Name             string
	PhotoPath        string
	IsPrivate        bool
	IsBlocked        bool
	IsOrganizational bool
	IsPrime          bool
}

// MetaByIDs returns the denormalized author snapshot for each requested id.
// Ids without a user row are absent from the result, not an error.
func (r *userRepository) MetaByIDs(ctx context.Context, userIDs []string) (map[string]model.UserMeta, error) {
	out := make(map[string]model.UserMeta, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []metaRow
	err := r.db.WithContext(ctx).
		Table("users").
		Select("users.user_id, user_profiles.name, user_profiles.photo_path, users.is_private, users.is_blocked, user_profiles.is_organizational, user_profiles.is_prime").
		Joins("JOIN user_profiles ON user_profiles.user_id = users.user_id").
		Where("users.user_id IN ?", userIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.UserID] = model.UserMeta{
			UserID:           row.UserID,
			Name:             row.Name,
			Photo:            row.PhotoPath,
			IsPrivate:        row.IsPrivate,
			IsBlocked:        row.IsBlocked,
			IsOrganizational: row.IsOrganizational,
			IsPrime:          row.IsPrime,
		}
	}
	return out, nil
}

// OrgPrimeIDs returns non-blocked author ids carrying both the
// organizational and the prime flag, for the discovery candidate pool.
func (r *userRepository) OrgPrimeIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("user_profiles").
		Joins("JOIN users ON users.user_id = user_profiles.user_id").
		Where("users.is_blocked = ? AND user_profiles.is_organizational = ? AND user_profiles.is_prime = ?",
			false, true, true).
		Limit(limit).
		Pluck("user_profiles.user_id", &ids).Error
	return ids, err
}

// FallbackIDs returns recently created public, non-blocked users. Used when a
// viewer follows nobody and no discovery pool is available.
func (r *userRepository) FallbackIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("is_blocked = ? AND is_private = ?", false, false).
		Order("created_at DESC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *userRepository) SetBlocked(ctx context.Context, userID string, blocked bool, until *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"is_blocked": blocked, "block_until": until}).Error
}

// ClearExpiredBlock lifts a temporary block whose deadline has passed.
// Reports whether the user is still blocked afterwards.
func (r *userRepository) ClearExpiredBlock(ctx context.Context, userID string, now time.Time) (bool, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.IsBlocked {
		return false, nil
	}
	if u.BlockUntil != nil && !u.BlockUntil.After(now) {
		if err := r.SetBlocked(ctx, userID, false, nil); err != nil {
			return true, err
		}
		return false, nil
	}
	return true, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(profile).Error
}

// Delete removes the account row and its profile. Content cleanup is the
// tweet repository's job.
func (r *userRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.UserProfile{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&model.User{}).Error
	})
}

func (r *userRepository) ListUsers(ctx context.Context, offset, limit int) ([]*model.User, error) {
	var res []*model.User
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}
