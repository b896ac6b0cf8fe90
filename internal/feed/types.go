package feed

import (
	"time"

	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
)

// FeedType selects the candidate time window.
type FeedType string

const (
	FeedLatest FeedType = "latest" // created within the last 24h
	FeedOlder  FeedType = "older"  // before the latest window, cursor-paged
)

const (
	MinPageSize = 1
	MaxPageSize = 100
)

// Request 一次 feed 查询的全部参数
type Request struct {
	UserID                 string   `json:"user_id"`
	Page                   int      `json:"page"`
	PageSize               int      `json:"page_size"`
	FeedType               FeedType `json:"feed_type"`
	IncludeRecommendations bool     `json:"include_recommendations"`
	LastTweetID            int64    `json:"last_tweet_id"`
	Refresh                bool     `json:"refresh"`
}

// MediaItem 响应里的媒体附件
type MediaItem struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// TweetSummary is one assembled feed row. Counts and flags are always
// present and zero-valued, never null.
type TweetSummary struct {
	ID        int64                  `json:"id"`
	Author    model.UserMeta         `json:"author"`
	Text      string                 `json:"text"`
	Media     []MediaItem            `json:"media"`
	Counts    model.EngagementCounts `json:"counts"`
	Viewer    repository.ViewerFlags `json:"viewer"`
	Views     int64                  `json:"views"`
	CreatedAt time.Time              `json:"created_at"`
	EditedAt  *time.Time             `json:"edited_at,omitempty"`
}

// Page 分页后的 feed 响应
type Page struct {
	Tweets           []TweetSummary `json:"tweets"`
	Total            int            `json:"total"`
	Page             int            `json:"page"`
	PageSize         int            `json:"page_size"`
	FeedType         FeedType       `json:"feed_type"`
	HasMore          bool           `json:"has_more"`
	LastTweetID      int64          `json:"last_tweet_id"`
	RefreshTimestamp time.Time      `json:"refresh_timestamp"`
}

// Category is the priority bucket a candidate lands in. Exactly one per
// candidate per ranking pass.
type Category string

const (
	CatPrimeOrgHigh       Category = "prime_org_high"
	CatPrimeOrgMedium     Category = "prime_org_medium"
	CatPrimeOrgNone       Category = "prime_org_none"
	CatHighAffinity       Category = "high_affinity_following"
	CatFollowingHigh      Category = "following_high"
	CatFollowingMedium    Category = "following_medium"
	CatFollowingNone      Category = "following_none"
	CatTrendingRelevant   Category = "trending_relevant"
	CatTrendingGeneral    Category = "trending_general"
	CatOther              Category = "other"
)

// quotaOrder fixes the category iteration order during slot allocation.
var quotaOrder = []Category{
	CatPrimeOrgHigh,
	CatPrimeOrgMedium,
	CatPrimeOrgNone,
	CatHighAffinity,
	CatFollowingHigh,
	CatFollowingMedium,
	CatFollowingNone,
	CatTrendingRelevant,
	CatTrendingGeneral,
}

// categoryQuota is each category's share of page slots, in percent.
var categoryQuota = map[Category]int{
	CatPrimeOrgHigh:     32,
	CatPrimeOrgMedium:   18,
	CatPrimeOrgNone:     12,
	CatHighAffinity:     18,
	CatFollowingHigh:    8,
	CatFollowingMedium:  7,
	CatFollowingNone:    3,
	CatTrendingRelevant: 1,
	CatTrendingGeneral:  1,
}

// diversitySharePct is the page share reserved for top "other" candidates.
const diversitySharePct = 12

// Candidate is one tweet flowing through the ranking pipeline.
type Candidate struct {
	Tweet    *model.Tweet
	Author   model.UserMeta
	Counts   model.EngagementCounts
	Flags    repository.ViewerFlags
	Media    []MediaItem
	Velocity float64
	Affinity float64
	Score    float64
	Category Category
}
