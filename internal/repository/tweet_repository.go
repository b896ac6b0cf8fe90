package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/model"
)

type TweetRepository interface {
	Create(ctx context.Context, tweet *model.Tweet, media []*model.TweetMedia) error
	GetByID(ctx context.Context, tweetID int64) (*model.Tweet, error)
	UpdateText(ctx context.Context, tweetID int64, text string, editedAt time.Time) error
	Delete(ctx context.Context, tweetID int64) error
	DeleteByAuthor(ctx context.Context, userID string) ([]int64, error)
	ListByAuthor(ctx context.Context, userID string, offset, limit int) ([]*model.Tweet, error)
	LatestCandidates(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]*model.Tweet, error)
	OlderCandidates(ctx context.Context, authorIDs []string, beforeID int64, before, since time.Time, limit int) ([]*model.Tweet, error)
	HasOlder(ctx context.Context, authorIDs []string, beforeID int64, since time.Time) (bool, error)
	MediaByTweetIDs(ctx context.Context, tweetIDs []int64) (map[int64][]*model.TweetMedia, error)
	AddView(ctx context.Context, tweetID int64) error
}

type tweetRepository struct {
	db *gorm.DB
}

func NewTweetRepository(db *gorm.DB) TweetRepository { return &tweetRepository{db: db} }

func (r *tweetRepository) Create(ctx context.Context, tweet *model.Tweet, media []*model.TweetMedia) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tweet).Error; err != nil {
			return err
		}
		for _, m := range media {
			m.TweetID = tweet.ID
		}
		if len(media) > 0 {
			if err := tx.Create(media).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *tweetRepository) GetByID(ctx context.Context, tweetID int64) (*model.Tweet, error) {
	var t model.Tweet
	if err := r.db.WithContext(ctx).Where("id = ?", tweetID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tweetRepository) UpdateText(ctx context.Context, tweetID int64, text string, editedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Tweet{}).
		Where("id = ?", tweetID).
		Updates(map[string]any{"text": text, "edited_at": editedAt}).Error
}

// Delete removes the tweet and everything hanging off it: media, likes,
// bookmarks, shares, comments and their likes.
func (r *tweetRepository) Delete(ctx context.Context, tweetID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteTweetCascade(tx, tweetID)
	})
}

func deleteTweetCascade(tx *gorm.DB, tweetID int64) error {
	var commentIDs []int64
	if err := tx.Model(&model.Comment{}).Where("tweet_id = ?", tweetID).Pluck("id", &commentIDs).Error; err != nil {
		return err
	}
	if len(commentIDs) > 0 {
		if err := tx.Where("comment_id IN ?", commentIDs).Delete(&model.CommentLike{}).Error; err != nil {
			return err
		}
	}
	for _, m := range []any{&model.Comment{}, &model.TweetLike{}, &model.Bookmark{}, &model.Share{}, &model.TweetMedia{}} {
		if err := tx.Where("tweet_id = ?", tweetID).Delete(m).Error; err != nil {
			return err
		}
	}
	return tx.Where("id = ?", tweetID).Delete(&model.Tweet{}).Error
}

// DeleteByAuthor removes every tweet of a user with full cascade and returns
// the removed ids so callers can invalidate.
func (r *tweetRepository) DeleteByAuthor(ctx context.Context, userID string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Tweet{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := deleteTweetCascade(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

func (r *tweetRepository) ListByAuthor(ctx context.Context, userID string, offset, limit int) ([]*model.Tweet, error) {
	var res []*model.Tweet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// LatestCandidates returns the newest tweets by the given authors inside the
// freshness window, newest first.
func (r *tweetRepository) LatestCandidates(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]*model.Tweet, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var res []*model.Tweet
	err := r.db.WithContext(ctx).
		Where("user_id IN ? AND created_at >= ?", authorIDs, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

// OlderCandidates pages past the freshness window. With a cursor (beforeID
// > 0) a tweet qualifies when its id is strictly below it; without one, when
// it was created before the window boundary. Bounded below by the retention
// window.
func (r *tweetRepository) OlderCandidates(ctx context.Context, authorIDs []string, beforeID int64, before, since time.Time, limit int) ([]*model.Tweet, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("user_id IN ? AND created_at >= ?", authorIDs, since)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	} else {
		q = q.Where("created_at < ?", before)
	}
	var res []*model.Tweet
	err := q.Order("created_at DESC").Limit(limit).Find(&res).Error
	return res, err
}

// HasOlder is the existence probe behind the pagination flag: one indexed
// lookup instead of counting candidates.
func (r *tweetRepository) HasOlder(ctx context.Context, authorIDs []string, beforeID int64, since time.Time) (bool, error) {
	if len(authorIDs) == 0 {
		return false, nil
	}
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.Tweet{}).
		Where("user_id IN ? AND id < ? AND created_at >= ?", authorIDs, beforeID, since).
		Limit(1).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *tweetRepository) MediaByTweetIDs(ctx context.Context, tweetIDs []int64) (map[int64][]*model.TweetMedia, error) {
	out := make(map[int64][]*model.TweetMedia, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return out, nil
	}
	var rows []*model.TweetMedia
	if err := r.db.WithContext(ctx).Where("tweet_id IN ?", tweetIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.TweetID] = append(out[m.TweetID], m)
	}
	return out, nil
}

func (r *tweetRepository) AddView(ctx context.Context, tweetID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Tweet{}).
		Where("id = ?", tweetID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
}
