package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cirkle/backend/internal/service"
	"github.com/cirkle/backend/pkg/response"
)

type postTweetRequest struct {
	Text  string               `json:"text" binding:"required"`
	Media []service.MediaInput `json:"media"`
}

// PostTweet 发布推文
func (h *Handler) PostTweet(c *gin.Context) {
	var req postTweetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tweet, err := h.tweets.Post(c.Request.Context(), c.GetString("user_id"), req.Text, req.Media)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": tweet.ID, "created_at": tweet.CreatedAt})
}

func tweetIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("tweet_id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid tweet id")
		return 0, false
	}
	return id, true
}

func commentIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("comment_id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid comment id")
		return 0, false
	}
	return id, true
}

type editTweetRequest struct {
	Text string `json:"text" binding:"required"`
}

// EditTweet 编辑推文文本
func (h *Handler) EditTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	var req editTweetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.tweets.Edit(c.Request.Context(), c.GetString("user_id"), id, req.Text); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteTweet 删除推文（级联互动）
func (h *Handler) DeleteTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.Delete(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// AddView 浏览计数
func (h *Handler) AddView(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.AddView(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// LikeTweet 点赞
func (h *Handler) LikeTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.Like(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlikeTweet 取消点赞
func (h *Handler) UnlikeTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.Unlike(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// Bookmark 收藏
func (h *Handler) Bookmark(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.AddBookmark(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// Unbookmark 取消收藏
func (h *Handler) Unbookmark(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.RemoveBookmark(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

type shareRequest struct {
	RecipientIDs []string `json:"recipient_ids" binding:"required"`
	Message      string   `json:"message"`
}

// ShareTweet 转发给互关好友
func (h *Handler) ShareTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.tweets.Share(c.Request.Context(), c.GetString("user_id"), id, req.RecipientIDs, req.Message); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

type commentRequest struct {
	Text            string `json:"text" binding:"required"`
	ParentCommentID *int64 `json:"parent_comment_id"`
}

// PostComment 评论或一层回复
func (h *Handler) PostComment(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	comment, err := h.tweets.Comment(c.Request.Context(), c.GetString("user_id"), id, req.ParentCommentID, req.Text)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": comment.ID, "created_at": comment.CreatedAt})
}

// ListComments 评论列表
func (h *Handler) ListComments(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, err := h.tweets.ListComments(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

type editCommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// EditComment 编辑评论
func (h *Handler) EditComment(c *gin.Context) {
	id, ok := commentIDParam(c)
	if !ok {
		return
	}
	var req editCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.tweets.EditComment(c.Request.Context(), c.GetString("user_id"), id, req.Text); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteComment 删除评论及其回复
func (h *Handler) DeleteComment(c *gin.Context) {
	id, ok := commentIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.DeleteComment(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// LikeComment 评论点赞
func (h *Handler) LikeComment(c *gin.Context) {
	id, ok := commentIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.LikeComment(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlikeComment 取消评论点赞
func (h *Handler) UnlikeComment(c *gin.Context) {
	id, ok := commentIDParam(c)
	if !ok {
		return
	}
	if err := h.tweets.UnlikeComment(c.Request.Context(), c.GetString("user_id"), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

type reportRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReportTweet 举报推文
func (h *Handler) ReportTweet(c *gin.Context) {
	id, ok := tweetIDParam(c)
	if !ok {
		return
	}
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.tweets.ReportTweet(c.Request.Context(), c.GetString("user_id"), id, req.Reason); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// ReportComment 举报评论
func (h *Handler) ReportComment(c *gin.Context) {
	id, ok := commentIDParam(c)
	if !ok {
		return
	}
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.tweets.ReportComment(c.Request.Context(), c.GetString("user_id"), id, req.Reason); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}
