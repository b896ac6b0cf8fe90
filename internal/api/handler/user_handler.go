package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/pkg/response"
)

// GetProfile 查询档案
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.users.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, profile)
}

type updateProfileRequest struct {
	Name       string `json:"name" binding:"required"`
	Bio        string `json:"bio"`
	PhotoPath  string `json:"photo_path"`
	BannerPath string `json:"banner_path"`
}

// UpdateProfile 更新自己的档案
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	profile := &model.UserProfile{
		UserID:     c.GetString("user_id"),
		Name:       req.Name,
		Bio:        req.Bio,
		PhotoPath:  req.PhotoPath,
		BannerPath: req.BannerPath,
	}
	if err := h.users.UpdateProfile(c.Request.Context(), profile); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

type blockRequest struct {
	Until *time.Time `json:"until"`
}

// BlockUser 管理端封禁；until 为空表示永久
func (h *Handler) BlockUser(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.users.Block(c.Request.Context(), c.Param("user_id"), req.Until); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnblockUser 管理端解封
func (h *Handler) UnblockUser(c *gin.Context) {
	if err := h.users.Unblock(c.Request.Context(), c.Param("user_id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteUser 管理端级联删除账号
func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.users.DeleteUser(c.Request.Context(), c.Param("user_id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}
