package handler

import (
	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/feed"
	"github.com/cirkle/backend/internal/service"
)

// Handler 聚合全部 HTTP 入口依赖
type Handler struct {
	feeds    *feed.Orchestrator
	tweets   service.TweetService
	relation service.RelationService
	users    service.UserService
	metrics  *cache.AtomicMetrics
}

func New(
	feeds *feed.Orchestrator,
	tweets service.TweetService,
	relation service.RelationService,
	users service.UserService,
	metrics *cache.AtomicMetrics,
) *Handler {
	return &Handler{feeds: feeds, tweets: tweets, relation: relation, users: users, metrics: metrics}
}
