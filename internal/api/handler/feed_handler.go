package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cirkle/backend/internal/feed"
	"github.com/cirkle/backend/pkg/response"
)

// GetFeed 个性化分页 feed
// @Summary 查询个人 feed
// @Tags feed
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Param feed_type query string false "latest|older" default(latest)
// @Success 200 {object} response.Response{data=feed.Page}
// @Router /api/v1/feed [get]
func (h *Handler) GetFeed(c *gin.Context) {
	userID := c.GetString("user_id")

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		response.BadRequest(c, "page must be a positive integer")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < feed.MinPageSize || pageSize > feed.MaxPageSize {
		response.BadRequest(c, "page_size must be between 1 and 100")
		return
	}
	feedType := feed.FeedType(c.DefaultQuery("feed_type", string(feed.FeedLatest)))
	if feedType != feed.FeedLatest && feedType != feed.FeedOlder {
		response.BadRequest(c, "feed_type must be latest or older")
		return
	}
	var lastTweetID int64
	if raw := c.Query("last_tweet_id"); raw != "" {
		lastTweetID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || lastTweetID < 0 {
			response.BadRequest(c, "last_tweet_id must be a non-negative integer")
			return
		}
	}

	req := feed.Request{
		UserID:                 userID,
		Page:                   page,
		PageSize:               pageSize,
		FeedType:               feedType,
		IncludeRecommendations: c.DefaultQuery("include_recommendations", "true") == "true",
		LastTweetID:            lastTweetID,
		Refresh:                c.Query("refresh") == "true",
	}
	result, err := h.feeds.Get(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// RefreshFeed 内部任务触发：重算某用户的 feed 首页
func (h *Handler) RefreshFeed(c *gin.Context) {
	userID := c.Param("user_id")
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err := h.feeds.RefreshUser(c.Request.Context(), userID, pageSize); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// RefreshFollowerFeeds 内部任务触发：作者内容变化后失效其全部粉丝的 feed 缓存
func (h *Handler) RefreshFollowerFeeds(c *gin.Context) {
	if err := h.users.RefreshFollowerFeeds(c.Request.Context(), c.Param("user_id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// CacheMetrics 缓存命中率快照
func (h *Handler) CacheMetrics(c *gin.Context) {
	response.Success(c, h.metrics.Snapshot())
}
