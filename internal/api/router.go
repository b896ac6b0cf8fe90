package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cirkle/backend/internal/api/handler"
	"github.com/cirkle/backend/internal/api/middleware"
)

var mediaTypes = map[string]bool{"image": true, "video": true, "gif": true}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("mediatype", func(fl validator.FieldLevel) bool {
			return mediaTypes[fl.Field().String()]
		})
	}
}

// Options 路由装配参数
type Options struct {
	Mode        string
	JWTSecret   string
	ServiceName string
	UseSentry   bool
}

// NewRouter assembles the HTTP surface.
func NewRouter(h *handler.Handler, opts Options) *gin.Engine {
	gin.SetMode(opts.Mode)
	registerValidations()
	r := gin.New()
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())
	if opts.UseSentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(otelgin.Middleware(opts.ServiceName))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(opts.JWTSecret))
	{
		v1.GET("/feed", h.GetFeed)

		v1.POST("/tweets", h.PostTweet)
		v1.PUT("/tweets/:tweet_id", h.EditTweet)
		v1.DELETE("/tweets/:tweet_id", h.DeleteTweet)
		v1.POST("/tweets/:tweet_id/view", h.AddView)
		v1.POST("/tweets/:tweet_id/like", h.LikeTweet)
		v1.DELETE("/tweets/:tweet_id/like", h.UnlikeTweet)
		v1.POST("/tweets/:tweet_id/bookmark", h.Bookmark)
		v1.DELETE("/tweets/:tweet_id/bookmark", h.Unbookmark)
		v1.POST("/tweets/:tweet_id/share", h.ShareTweet)
		v1.POST("/tweets/:tweet_id/comments", h.PostComment)
		v1.GET("/tweets/:tweet_id/comments", h.ListComments)
		v1.POST("/tweets/:tweet_id/report", h.ReportTweet)

		v1.PUT("/comments/:comment_id", h.EditComment)
		v1.DELETE("/comments/:comment_id", h.DeleteComment)
		v1.POST("/comments/:comment_id/like", h.LikeComment)
		v1.DELETE("/comments/:comment_id/like", h.UnlikeComment)
		v1.POST("/comments/:comment_id/report", h.ReportComment)

		v1.POST("/relations/follow", h.Follow)
		v1.POST("/relations/unfollow", h.Unfollow)
		v1.POST("/relations/requests/accept", h.AcceptFollowRequest)
		v1.POST("/relations/requests/decline", h.DeclineFollowRequest)
		v1.GET("/relations/requests", h.ListFollowRequests)
		v1.POST("/relations/remove-follower", h.RemoveFollower)
		v1.GET("/relations/:user_id/following", h.ListFollowing)
		v1.GET("/relations/:user_id/followers", h.ListFollowers)

		v1.GET("/users/:user_id/profile", h.GetProfile)
		v1.PUT("/profile", h.UpdateProfile)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminOnly())
	{
		admin.POST("/users/:user_id/block", h.BlockUser)
		admin.POST("/users/:user_id/unblock", h.UnblockUser)
		admin.DELETE("/users/:user_id", h.DeleteUser)
		admin.GET("/cache/metrics", h.CacheMetrics)
		// 后台任务触发入口
		admin.POST("/feeds/:user_id/refresh", h.RefreshFeed)
		admin.POST("/feeds/:user_id/refresh-followers", h.RefreshFollowerFeeds)
	}

	return r
}
