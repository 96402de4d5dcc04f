package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"

	apihandler "dating-match-go/internal/api/handler"
	"dating-match-go/internal/presence"
	"dating-match-go/internal/storage"
	"dating-match-go/internal/storage/models"
)

// emptyUserStore 任何令牌都查不到用户
type emptyUserStore struct{}

func (emptyUserStore) GetUserByAccessToken(ctx context.Context, token string) (*models.User, error) {
	return nil, storage.ErrRecordNotFound
}

func newTestEngine() *server.Hertz {
	h := server.Default(server.WithHostPorts("127.0.0.1:0"))
	RegisterRoutes(
		h,
		apihandler.NewMatchingAPI(nil),
		apihandler.NewProfileAPI(nil, nil, 0),
		emptyUserStore{},
		presence.NewRegistry(),
	)
	return h
}

// TestRoutesServedOnBothPrefixes 同一套路由同时挂载在/api和/api/v1下
func TestRoutesServedOnBothPrefixes(t *testing.T) {
	h := newTestEngine()

	for _, prefix := range []string{"/api", "/api/v1"} {
		t.Run(prefix, func(t *testing.T) {
			w := ut.PerformRequest(h.Engine, "GET", prefix+"/health", nil)
			assert.Equal(t, consts.StatusOK, w.Result().StatusCode())

			// 未认证时返回401而不是404，证明路由已注册
			for _, route := range []struct {
				method string
				path   string
			}{
				{"POST", "/matching/request"},
				{"GET", "/matching/results"},
				{"GET", "/matching/status/abc"},
				{"POST", "/profile/image"},
			} {
				w := ut.PerformRequest(h.Engine, route.method, prefix+route.path, nil)
				assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode(),
					fmt.Sprintf("%s %s%s", route.method, prefix, route.path))
			}
		})
	}
}
