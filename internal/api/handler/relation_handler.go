package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cirkle/backend/pkg/response"
)

type followRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Follow 建立关注；私密账号进入待审批
// @Summary 关注用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	state, err := h.relation.Follow(c.Request.Context(), c.GetString("user_id"), req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"state": state})
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "取消关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relation.Unfollow(c.Request.Context(), c.GetString("user_id"), req.UserID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// AcceptFollowRequest 通过待审批关注
func (h *Handler) AcceptFollowRequest(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relation.AcceptRequest(c.Request.Context(), c.GetString("user_id"), req.UserID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeclineFollowRequest 拒绝待审批关注
func (h *Handler) DeclineFollowRequest(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relation.DeclineRequest(c.Request.Context(), c.GetString("user_id"), req.UserID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListFollowRequests 待审批列表
func (h *Handler) ListFollowRequests(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, err := h.relation.ListPendingRequests(c.Request.Context(), c.GetString("user_id"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// RemoveFollower 移除粉丝
func (h *Handler) RemoveFollower(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.relation.RemoveFollower(c.Request.Context(), c.GetString("user_id"), req.UserID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	userID := c.Param("user_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, err := h.relation.ListFollowing(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// ListFollowers 查询某用户的粉丝
// @Summary 查询粉丝列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) {
	userID := c.Param("user_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	list, err := h.relation.ListFollowers(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}
