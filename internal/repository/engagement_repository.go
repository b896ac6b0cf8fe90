package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cirkle/backend/internal/model"
)

// ViewerFlags 当前用户对单条 tweet 的互动标记
type ViewerFlags struct {
	Liked      bool `json:"liked"`
	Bookmarked bool `json:"bookmarked"`
}

type EngagementRepository interface {
	CountsByTweetIDs(ctx context.Context, tweetIDs []int64) (map[int64]model.EngagementCounts, error)
	FlagsForViewer(ctx context.Context, viewerID string, tweetIDs []int64) (map[int64]ViewerFlags, error)
	LikeCountsBetween(ctx context.Context, tweetIDs []int64, from, to time.Time) (map[int64]int64, error)
	LikedAuthorCounts(ctx context.Context, userID string, since time.Time) (map[string]int64, error)

	Like(ctx context.Context, tweetID int64, userID string) error
	Unlike(ctx context.Context, tweetID int64, userID string) error
	AddBookmark(ctx context.Context, tweetID int64, userID string) error
	RemoveBookmark(ctx context.Context, tweetID int64, userID string) error
	CreateShares(ctx context.Context, tweetID int64, userID string, recipientIDs []string, message string) error

	CreateComment(ctx context.Context, c *model.Comment) error
	GetComment(ctx context.Context, commentID int64) (*model.Comment, error)
	UpdateCommentText(ctx context.Context, commentID int64, text string, editedAt time.Time) error
	DeleteComment(ctx context.Context, commentID int64) error
	ListComments(ctx context.Context, tweetID int64, offset, limit int) ([]*model.Comment, error)
	LikeComment(ctx context.Context, commentID int64, userID string) error
	UnlikeComment(ctx context.Context, commentID int64, userID string) error

	ReportTweet(ctx context.Context, report *model.TweetReport) error
	ReportComment(ctx context.Context, report *model.CommentReport) error
}

type engagementRepository struct {
	db *gorm.DB
}

func NewEngagementRepository(db *gorm.DB) EngagementRepository {
	return &engagementRepository{db: db}
}

// countRow 分组计数的通用扫描目标
type countRow struct {
	TweetID int64
	Cnt     int64
}

func (r *engagementRepository) groupCount(ctx context.Context, m any, tweetIDs []int64) (map[int64]int64, error) {
	var rows []countRow
	err := r.db.WithContext(ctx).
		Model(m).
		Select("tweet_id, COUNT(*) AS cnt").
		Where("tweet_id IN ?", tweetIDs).
		Group("tweet_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, row := range rows {
		out[row.TweetID] = row.Cnt
	}
	return out, nil
}

// CountsByTweetIDs aggregates the four engagement counters with one group-by
// query per table. Tweets with no engagement get a zero entry.
func (r *engagementRepository) CountsByTweetIDs(ctx context.Context, tweetIDs []int64) (map[int64]model.EngagementCounts, error) {
	out := make(map[int64]model.EngagementCounts, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return out, nil
	}
	likes, err := r.groupCount(ctx, &model.TweetLike{}, tweetIDs)
	if err != nil {
		return nil, err
	}
	comments, err := r.groupCount(ctx, &model.Comment{}, tweetIDs)
	if err != nil {
		return nil, err
	}
	shares, err := r.groupCount(ctx, &model.Share{}, tweetIDs)
	if err != nil {
		return nil, err
	}
	bookmarks, err := r.groupCount(ctx, &model.Bookmark{}, tweetIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range tweetIDs {
		out[id] = model.EngagementCounts{
			Likes:     likes[id],
			Comments:  comments[id],
			Shares:    shares[id],
			Bookmarks: bookmarks[id],
		}
	}
	return out, nil
}

// FlagsForViewer reports which of the tweets the viewer has liked or
// bookmarked.
func (r *engagementRepository) FlagsForViewer(ctx context.Context, viewerID string, tweetIDs []int64) (map[int64]ViewerFlags, error) {
	out := make(map[int64]ViewerFlags, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return out, nil
	}
	var likedIDs []int64
	if err := r.db.WithContext(ctx).
		Model(&model.TweetLike{}).
		Where("user_id = ? AND tweet_id IN ?", viewerID, tweetIDs).
		Pluck("tweet_id", &likedIDs).Error; err != nil {
		return nil, err
	}
	var bookmarkedIDs []int64
	if err := r.db.WithContext(ctx).
		Model(&model.Bookmark{}).
		Where("user_id = ? AND tweet_id IN ?", viewerID, tweetIDs).
		Pluck("tweet_id", &bookmarkedIDs).Error; err != nil {
		return nil, err
	}
	for _, id := range likedIDs {
		f := out[id]
		f.Liked = true
		out[id] = f
	}
	for _, id := range bookmarkedIDs {
		f := out[id]
		f.Bookmarked = true
		out[id] = f
	}
	return out, nil
}

// LikeCountsBetween counts likes per tweet inside a time window. Feeds the
// velocity estimate.
func (r *engagementRepository) LikeCountsBetween(ctx context.Context, tweetIDs []int64, from, to time.Time) (map[int64]int64, error) {
	if len(tweetIDs) == 0 {
		return map[int64]int64{}, nil
	}
	var rows []countRow
	err := r.db.WithContext(ctx).
		Model(&model.TweetLike{}).
		Select("tweet_id, COUNT(*) AS cnt").
		Where("tweet_id IN ? AND created_at >= ? AND created_at < ?", tweetIDs, from, to).
		Group("tweet_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, row := range rows {
		out[row.TweetID] = row.Cnt
	}
	return out, nil
}

// LikedAuthorCounts counts the viewer's likes grouped by the liked tweet's
// author since the given time. Feeds the affinity estimate.
func (r *engagementRepository) LikedAuthorCounts(ctx context.Context, userID string, since time.Time) (map[string]int64, error) {
	type authorRow struct {
		AuthorID string
		Cnt      int64
	}
	var rows []authorRow
	err := r.db.WithContext(ctx).
		Table("tweet_likes").
		Select("tweets.user_id AS author_id, COUNT(*) AS cnt").
		Joins("JOIN tweets ON tweets.id = tweet_likes.tweet_id").
		Where("tweet_likes.user_id = ? AND tweet_likes.created_at >= ?", userID, since).
		Group("tweets.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.AuthorID] = row.Cnt
	}
	return out, nil
}

func (r *engagementRepository) Like(ctx context.Context, tweetID int64, userID string) error {
	l := &model.TweetLike{TweetID: tweetID, UserID: userID}
	// 幂等：重复点赞不报错
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l).Error
}

func (r *engagementRepository) Unlike(ctx context.Context, tweetID int64, userID string) error {
	return r.db.WithContext(ctx).
		Where("tweet_id = ? AND user_id = ?", tweetID, userID).
		Delete(&model.TweetLike{}).Error
}

func (r *engagementRepository) AddBookmark(ctx context.Context, tweetID int64, userID string) error {
	b := &model.Bookmark{TweetID: tweetID, UserID: userID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b).Error
}

func (r *engagementRepository) RemoveBookmark(ctx context.Context, tweetID int64, userID string) error {
	return r.db.WithContext(ctx).
		Where("tweet_id = ? AND user_id = ?", tweetID, userID).
		Delete(&model.Bookmark{}).Error
}

// CreateShares writes one share row per recipient. Re-sharing to the same
// recipient is a no-op via the unique triple.
func (r *engagementRepository) CreateShares(ctx context.Context, tweetID int64, userID string, recipientIDs []string, message string) error {
	rows := make([]*model.Share, 0, len(recipientIDs))
	for _, rid := range recipientIDs {
		rows = append(rows, &model.Share{
			TweetID:     tweetID,
			UserID:      userID,
			RecipientID: rid,
			Message:     message,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
}

func (r *engagementRepository) CreateComment(ctx context.Context, c *model.Comment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *engagementRepository) GetComment(ctx context.Context, commentID int64) (*model.Comment, error) {
	var c model.Comment
	if err := r.db.WithContext(ctx).Where("id = ?", commentID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *engagementRepository) UpdateCommentText(ctx context.Context, commentID int64, text string, editedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Comment{}).
		Where("id = ?", commentID).
		Updates(map[string]any{"text": text, "edited_at": editedAt}).Error
}

// DeleteComment removes the comment, its likes, and one level of replies.
func (r *engagementRepository) DeleteComment(ctx context.Context, commentID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var replyIDs []int64
		if err := tx.Model(&model.Comment{}).Where("parent_comment_id = ?", commentID).Pluck("id", &replyIDs).Error; err != nil {
			return err
		}
		all := append(replyIDs, commentID)
		if err := tx.Where("comment_id IN ?", all).Delete(&model.CommentLike{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", all).Delete(&model.Comment{}).Error
	})
}

func (r *engagementRepository) ListComments(ctx context.Context, tweetID int64, offset, limit int) ([]*model.Comment, error) {
	var res []*model.Comment
	err := r.db.WithContext(ctx).
		Where("tweet_id = ?", tweetID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *engagementRepository) LikeComment(ctx context.Context, commentID int64, userID string) error {
	l := &model.CommentLike{CommentID: commentID, UserID: userID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(l).Error
}

func (r *engagementRepository) UnlikeComment(ctx context.Context, commentID int64, userID string) error {
	return r.db.WithContext(ctx).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Delete(&model.CommentLike{}).Error
}

func (r *engagementRepository) ReportTweet(ctx context.Context, report *model.TweetReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *engagementRepository) ReportComment(ctx context.Context, report *model.CommentReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}
