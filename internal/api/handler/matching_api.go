package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dating-match-go/internal/api/middleware"
	"dating-match-go/internal/handler"
	"dating-match-go/internal/logger"
)

// MatchingAPI 匹配流水线的HTTP适配层
// 只做参数提取和状态码映射，业务逻辑全部在MatchingHandler中
type MatchingAPI struct {
	matching *handler.MatchingHandler
}

// NewMatchingAPI 创建匹配API处理器
func NewMatchingAPI(matching *handler.MatchingHandler) *MatchingAPI {
	return &MatchingAPI{matching: matching}
}

// HandleCreateRequest POST /api/v1/matching/request
// 受理成功固定返回200和PENDING状态，结果由消费者异步产出
func (a *MatchingAPI) HandleCreateRequest(c context.Context, ctx *app.RequestContext) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "로그인이 필요합니다"})
		return
	}

	resp, err := a.matching.CreateMatchingRequest(c, user)
	if err != nil {
		logger.Error().Err(err).Uint64("user_id", user.ID).Msg("受理匹配请求失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "매칭 요청 처리에 실패했습니다"})
		return
	}

	ctx.JSON(consts.StatusOK, resp)
}

// HandleGetResults GET /api/v1/matching/results
// 缓存未命中返回404，调用方无法区分"计算中"和"已过期"，可配合状态查询
func (a *MatchingAPI) HandleGetResults(c context.Context, ctx *app.RequestContext) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "로그인이 필요합니다"})
		return
	}

	result, err := a.matching.GetMatchingResult(c, user.ID)
	if err != nil {
		if errors.Is(err, handler.ErrResultNotAvailable) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "매칭 결과가 없습니다"})
			return
		}
		logger.Error().Err(err).Uint64("user_id", user.ID).Msg("查询匹配结果失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "매칭 결과 조회에 실패했습니다"})
		return
	}

	ctx.JSON(consts.StatusOK, result)
}

// HandleGetStatus GET /api/v1/matching/status/:request_id
func (a *MatchingAPI) HandleGetStatus(c context.Context, ctx *app.RequestContext) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "로그인이 필요합니다"})
		return
	}

	requestID := ctx.Param("request_id")
	if requestID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "request_id가 필요합니다"})
		return
	}

	resp, err := a.matching.GetMatchingStatus(c, user.ID, requestID)
	if err != nil {
		if errors.Is(err, handler.ErrRequestNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "매칭 요청을 찾을 수 없습니다"})
			return
		}
		logger.Error().Err(err).Str("request_id", requestID).Msg("查询匹配请求状态失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "상태 조회에 실패했습니다"})
		return
	}

	ctx.JSON(consts.StatusOK, resp)
}
