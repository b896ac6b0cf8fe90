package model

import "time"

// Tweet 内容主体；删除时级联清理互动记录与媒体
type Tweet struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"type:varchar(36);index:idx_tweet_author_created;not null"`
	Text      string `gorm:"type:varchar(500);not null"`
	ViewCount int64  `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index:idx_tweet_author_created;index:idx_tweet_created"`
	EditedAt  *time.Time
}

func (Tweet) TableName() string { return "tweets" }

// TweetMedia 附件，最多 4 条
type TweetMedia struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TweetID   int64  `gorm:"index:idx_media_tweet;not null"`
	MediaType string `gorm:"type:varchar(32);not null"`
	MediaPath string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
}

func (TweetMedia) TableName() string { return "tweet_media" }

// MaxTweetMedia bounds attachments per tweet.
const MaxTweetMedia = 4

// MaxTweetTextLen bounds tweet text length.
const MaxTweetTextLen = 500

// MaxCommentTextLen bounds comment text length.
const MaxCommentTextLen = 280
