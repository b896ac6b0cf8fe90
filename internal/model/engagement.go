package model

import "time"

// TweetLike 点赞记录 (tweet_id, user_id) 唯一
type TweetLike struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TweetID   int64  `gorm:"index:idx_tweet_like_pair,unique;index:idx_tweet_like_created;not null"`
	UserID    string `gorm:"type:varchar(36);index:idx_tweet_like_pair,unique;index:idx_tweet_like_user;not null"`
	CreatedAt time.Time `gorm:"index:idx_tweet_like_created"`
}

func (TweetLike) TableName() string { return "tweet_likes" }

// Comment 评论；parent_comment_id 支持一层回复
type Comment struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	TweetID         int64  `gorm:"index:idx_comment_tweet;not null"`
	UserID          string `gorm:"type:varchar(36);index:idx_comment_user;not null"`
	Text            string `gorm:"type:varchar(280);not null"`
	ParentCommentID *int64 `gorm:"index:idx_comment_parent"`
	CreatedAt       time.Time
	EditedAt        *time.Time
}

func (Comment) TableName() string { return "comments" }

// CommentLike 评论点赞 (comment_id, user_id) 唯一
type CommentLike struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	CommentID int64  `gorm:"index:idx_comment_like_pair,unique;not null"`
	UserID    string `gorm:"type:varchar(36);index:idx_comment_like_pair,unique;not null"`
	CreatedAt time.Time
}

func (CommentLike) TableName() string { return "comment_likes" }

// Bookmark 收藏 (tweet_id, user_id) 唯一
type Bookmark struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TweetID   int64  `gorm:"index:idx_bookmark_pair,unique;not null"`
	UserID    string `gorm:"type:varchar(36);index:idx_bookmark_pair,unique;index:idx_bookmark_user;not null"`
	CreatedAt time.Time
}

func (Bookmark) TableName() string { return "bookmarks" }

// Share 转发私享：sender -> recipient，可附言
type Share struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	TweetID     int64  `gorm:"index:idx_share_tweet;index:idx_share_triple,unique;not null"`
	UserID      string `gorm:"type:varchar(36);index:idx_share_triple,unique;not null"`
	RecipientID string `gorm:"type:varchar(36);index:idx_share_recipient;index:idx_share_triple,unique;not null"`
	Message     string `gorm:"type:varchar(280)"`
	CreatedAt   time.Time
}

func (Share) TableName() string { return "shares" }

// TweetReport 举报快照以 JSON 文本保存，便于内容被删后审计
type TweetReport struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TweetID   int64  `gorm:"index:idx_tweet_report_tweet;not null"`
	UserID    string `gorm:"type:varchar(36);not null"`
	Reason    string `gorm:"type:varchar(500);not null"`
	Snapshot  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (TweetReport) TableName() string { return "tweet_reports" }

// CommentReport 评论举报
type CommentReport struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	CommentID int64  `gorm:"index:idx_comment_report_comment;not null"`
	UserID    string `gorm:"type:varchar(36);not null"`
	Reason    string `gorm:"type:varchar(500);not null"`
	Snapshot  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (CommentReport) TableName() string { return "comment_reports" }

// EngagementCounts 单条 tweet 的四项互动计数
type EngagementCounts struct {
	Likes     int64 `json:"likes"`
	Comments  int64 `json:"comments"`
	Shares    int64 `json:"shares"`
	Bookmarks int64 `json:"bookmarks"`
}
