package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"

	"dating-match-go/internal/api/handler"
	"dating-match-go/internal/api/middleware"
	"dating-match-go/internal/presence"
)

// RegisterRoutes 注册API路由
// 除健康检查外所有路由都要求Bearer令牌认证
// 同时挂载在/api和/api/v1两个前缀下，老客户端继续走不带版本号的路径
func RegisterRoutes(
	h *server.Hertz,
	matchingAPI *handler.MatchingAPI,
	profileAPI *handler.ProfileAPI,
	users middleware.UserStore,
	registry *presence.Registry,
) {
	auth := middleware.Auth(users, registry)

	for _, api := range []*route.RouterGroup{h.Group("/api"), h.Group("/api/v1")} {
		api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
			ctx.JSON(consts.StatusOK, utils.H{
				"status":       "ok",
				"online_users": registry.Count(),
			})
		})

		authed := api.Group("/", auth)

		matching := authed.Group("/matching")
		matching.POST("/request", matchingAPI.HandleCreateRequest)
		matching.GET("/results", matchingAPI.HandleGetResults)
		matching.GET("/status/:request_id", matchingAPI.HandleGetStatus)

		profile := authed.Group("/profile")
		profile.POST("/image", profileAPI.HandleUploadProfileImage)
	}
}
