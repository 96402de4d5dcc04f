package middleware

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"dating-match-go/internal/logger"
	"dating-match-go/internal/presence"
	"dating-match-go/internal/storage"
	"dating-match-go/internal/storage/models"
)

// ContextUserKey 认证通过后当前用户在RequestContext中的键
const ContextUserKey = "currentUser"

// UserStore 按访问令牌查询用户，由MySQL存储层实现
type UserStore interface {
	GetUserByAccessToken(ctx context.Context, token string) (*models.User, error)
}

// Auth 构建Bearer令牌认证中间件
// 令牌有效时把用户对象放入请求上下文，并在在线注册表中刷新该用户
func Auth(users UserStore, registry *presence.Registry) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, token string) (bool, error) {
			if token == "" {
				return false, nil
			}
			user, err := users.GetUserByAccessToken(ctx, token)
			if err != nil {
				if errors.Is(err, storage.ErrRecordNotFound) {
					return false, nil
				}
				logger.Error().Err(err).Msg("按访问令牌查询用户失败")
				return false, err
			}
			c.Set(ContextUserKey, user)
			if registry != nil {
				registry.MarkOnline(user.ID)
			}
			return true, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.JSON(consts.StatusUnauthorized, utils.H{"error": "로그인이 필요합니다"})
			c.Abort()
		}),
	)
}

// CurrentUser 从请求上下文取出认证用户
func CurrentUser(c *app.RequestContext) (*models.User, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}
