package handler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dating-match-go/internal/api/middleware"
	"dating-match-go/internal/logger"
	"dating-match-go/internal/storage"
)

// 头像上传大小上限
const maxProfileImageSize = 10 << 20 // 10MB

// AvatarStore 头像对象键的持久化，由MySQL存储层实现
type AvatarStore interface {
	UpdateUserAvatar(ctx context.Context, userID uint64, objectKey string) error
}

// ProfileAPI 用户资料相关的HTTP适配层
type ProfileAPI struct {
	objects       storage.ObjectStorage
	avatars       AvatarStore
	presignExpiry time.Duration
}

// NewProfileAPI 创建资料API处理器
func NewProfileAPI(objects storage.ObjectStorage, avatars AvatarStore, presignExpiry time.Duration) *ProfileAPI {
	return &ProfileAPI{
		objects:       objects,
		avatars:       avatars,
		presignExpiry: presignExpiry,
	}
}

// HandleUploadProfileImage POST /api/v1/profile/image
// 头像进对象存储，用户行只记录对象键，展示时临时签发URL
func (p *ProfileAPI) HandleUploadProfileImage(c context.Context, ctx *app.RequestContext) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "로그인이 필요합니다"})
		return
	}

	if p.objects == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "프로필 이미지 업로드를 사용할 수 없습니다"})
		return
	}

	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "이미지 파일이 필요합니다"})
		return
	}
	if fileHeader.Size > maxProfileImageSize {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "이미지 크기는 10MB를 넘을 수 없습니다"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "파일을 열 수 없습니다"})
		return
	}
	defer file.Close()

	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".jpg"
	}

	objectKey, err := p.objects.UploadProfileImage(c, user.ID, ext, file, fileHeader.Size)
	if err != nil {
		logger.Error().Err(err).Uint64("user_id", user.ID).Msg("上传头像到对象存储失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "이미지 업로드에 실패했습니다"})
		return
	}

	if err := p.avatars.UpdateUserAvatar(c, user.ID, objectKey); err != nil {
		logger.Error().Err(err).
			Uint64("user_id", user.ID).
			Str("object_key", objectKey).
			Msg("更新用户头像对象键失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "이미지 업로드에 실패했습니다"})
		return
	}

	// 立即签发一个临时URL方便客户端回显，失败不影响上传结果
	url, err := p.objects.GetPresignedURL(c, objectKey, p.presignExpiry)
	if err != nil {
		logger.Warn().Err(err).Str("object_key", objectKey).Msg("生成头像预签名URL失败")
		url = ""
	}

	ctx.JSON(consts.StatusOK, utils.H{
		"object_key": objectKey,
		"url":        url,
	})
}
