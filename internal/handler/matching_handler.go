package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dating-match-go/internal/config"
	"dating-match-go/internal/constants"
	"dating-match-go/internal/logger"
	"dating-match-go/internal/matcher"
	"dating-match-go/internal/storage"
	"dating-match-go/internal/storage/models"
	"dating-match-go/internal/types"
)

// RequestStore 匹配请求的持久化操作集合，由MySQL存储层实现
type RequestStore interface {
	CreateMatchingRequest(ctx context.Context, req *models.MatchingRequest) error
	GetMatchingRequestByID(ctx context.Context, id uint64) (*models.MatchingRequest, error)
	GetMatchingRequestByRequestID(ctx context.Context, requestID string, userID uint64) (*models.MatchingRequest, error)
	MarkMatchingRequestProcessing(ctx context.Context, id uint64) error
	CompleteMatchingRequest(ctx context.Context, id uint64, candidatesCount, matchedCount int, processingTimeMs int64) error
	FailMatchingRequest(ctx context.Context, id uint64) error
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	SaveOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error
}

// ResultCache 匹配结果缓存，由Redis存储层实现
type ResultCache interface {
	SetMatchingResult(ctx context.Context, userID uint64, result *types.MatchingResult) error
	GetMatchingResult(ctx context.Context, userID uint64) (*types.MatchingResult, error)
}

// EventBroker 消息队列操作集合，由RabbitMQ存储层实现
type EventBroker interface {
	EnsureExchange(exchangeName, exchangeType string, durable bool) error
	EnsureQueue(queueName string, durable bool) error
	BindQueue(queueName, exchangeName, routingKey string) error
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
	StartWorkerPoolConsumer(queueName string, workers int, prefetchCount int, handler func([]byte) bool) (<-chan struct{}, error)
}

// MatchingHandler 匹配流水线的编排器和消费者
// 编排侧在HTTP请求线程上落库并发布事件，消费侧由worker池驱动状态机
type MatchingHandler struct {
	cfg       *config.Config
	store     RequestStore
	cache     ResultCache
	broker    EventBroker
	algorithm matcher.Algorithm
}

// NewMatchingHandler 创建匹配处理器
func NewMatchingHandler(
	cfg *config.Config,
	store RequestStore,
	cache ResultCache,
	broker EventBroker,
	algorithm matcher.Algorithm,
) *MatchingHandler {
	return &MatchingHandler{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		broker:    broker,
		algorithm: algorithm,
	}
}

// MatchingRequestResponse 创建匹配请求的响应
type MatchingRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CreateMatchingRequest 受理一次匹配请求
// 同步路径只做两件事：写入PENDING行、发布队列事件，结果由消费者异步计算
func (h *MatchingHandler) CreateMatchingRequest(ctx context.Context, user *models.User) (*MatchingRequestResponse, error) {
	requestID := uuid.NewString()

	row := &models.MatchingRequest{
		RequestID: requestID,
		UserID:    user.ID,
		Status:    string(types.MatchingPending),
	}
	if err := h.store.CreateMatchingRequest(ctx, row); err != nil {
		return nil, NewDatabaseError(requestID, err.Error())
	}

	message := storage.MatchRequestedMessage{
		MatchingRequestID: row.ID,
		UserID:            user.ID,
		RequestID:         requestID,
		Timestamp:         time.Now(),
	}
	if err := h.publishMatchRequested(ctx, message); err != nil {
		return nil, err
	}

	logger.Info().
		Str("request_id", requestID).
		Uint64("user_id", user.ID).
		Msg("匹配请求已受理")

	return &MatchingRequestResponse{
		RequestID: requestID,
		Status:    string(types.MatchingPending),
		Message:   types.StatusDescription(types.MatchingPending),
	}, nil
}

// publishMatchRequested 发布匹配事件
// 直接发布失败时降级写入发件箱，由中继任务补发，请求本身不失败
func (h *MatchingHandler) publishMatchRequested(ctx context.Context, message storage.MatchRequestedMessage) error {
	err := h.broker.PublishJSON(
		ctx,
		h.cfg.RabbitMQ.MatchEventsExchange,
		h.cfg.RabbitMQ.MatchRequestedKey,
		message,
		true, // 持久化
	)
	if err == nil {
		return nil
	}

	logger.Warn().
		Err(err).
		Str("request_id", message.RequestID).
		Msg("直接发布匹配事件失败，降级写入发件箱")

	payload, marshalErr := json.Marshal(message)
	if marshalErr != nil {
		return NewPublishError(message.RequestID, fmt.Sprintf("序列化消息失败: %v", marshalErr))
	}

	outboxMsg := &models.OutboxMessage{
		AggregateID:      message.RequestID,
		EventType:        "match.requested",
		Payload:          string(payload),
		TargetExchange:   h.cfg.RabbitMQ.MatchEventsExchange,
		TargetRoutingKey: h.cfg.RabbitMQ.MatchRequestedKey,
		Status:           "PENDING",
	}
	if saveErr := h.store.SaveOutboxMessage(ctx, outboxMsg); saveErr != nil {
		// 直接发布和发件箱双双失败，事件确定丢失，只能向上报错
		return NewPublishError(message.RequestID, fmt.Sprintf("发件箱写入失败: %v (原始发布错误: %v)", saveErr, err))
	}
	return nil
}

// MatchingStatusResponse 状态查询响应
type MatchingStatusResponse struct {
	RequestID   string     `json:"request_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// GetMatchingStatus 按对外关联令牌查询请求状态，只能查到自己的请求
func (h *MatchingHandler) GetMatchingStatus(ctx context.Context, userID uint64, requestID string) (*MatchingStatusResponse, error) {
	row, err := h.store.GetMatchingRequestByRequestID(ctx, requestID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, NewDatabaseError(requestID, err.Error())
	}

	status := types.MatchingStatus(row.Status)
	return &MatchingStatusResponse{
		RequestID:   row.RequestID,
		Status:      row.Status,
		Message:     types.StatusDescription(status),
		ProcessedAt: row.ProcessedAt,
	}, nil
}

// GetMatchingResult 读取缓存中的最新匹配结果
// 缓存未命中时无法区分"仍在计算"和"已过期"，由调用方配合状态查询使用
func (h *MatchingHandler) GetMatchingResult(ctx context.Context, userID uint64) (*types.MatchingResult, error) {
	result, err := h.cache.GetMatchingResult(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrResultNotAvailable
		}
		return nil, err
	}
	return result, nil
}

// StartMatchingConsumer 声明拓扑并启动匹配事件消费者worker池
func (h *MatchingHandler) StartMatchingConsumer(ctx context.Context) error {
	logger.Info().
		Str("exchange", h.cfg.RabbitMQ.MatchEventsExchange).
		Str("routing_key", h.cfg.RabbitMQ.MatchRequestedKey).
		Msg("初始化RabbitMQ匹配事件拓扑")

	if err := h.broker.EnsureExchange(h.cfg.RabbitMQ.MatchEventsExchange, "direct", true); err != nil {
		return fmt.Errorf("确保交换机存在失败: %w", err)
	}
	if err := h.broker.EnsureQueue(h.cfg.RabbitMQ.MatchRequestedQueue, true); err != nil {
		return fmt.Errorf("确保队列存在失败: %w", err)
	}
	if err := h.broker.BindQueue(
		h.cfg.RabbitMQ.MatchRequestedQueue,
		h.cfg.RabbitMQ.MatchEventsExchange,
		h.cfg.RabbitMQ.MatchRequestedKey,
	); err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}

	workers := h.cfg.RabbitMQ.WorkerCount(constants.MinConsumerWorkers, constants.MaxConsumerWorkers)
	logger.Info().
		Str("queue", h.cfg.RabbitMQ.MatchRequestedQueue).
		Int("workers", workers).
		Msg("匹配事件消费者就绪")

	_, err := h.broker.StartWorkerPoolConsumer(
		h.cfg.RabbitMQ.MatchRequestedQueue,
		workers,
		h.cfg.RabbitMQ.PrefetchCount,
		func(data []byte) bool {
			return h.processMatchingEvent(ctx, data)
		},
	)
	if err != nil {
		return fmt.Errorf("启动消费者失败: %w", err)
	}
	return nil
}

// processMatchingEvent 单条匹配事件的完整状态机
// 返回true表示ack，false表示nack并重新入队
// 确定性失败(请求不存在、算法失败)一律ack，只有瞬时故障才重试
func (h *MatchingHandler) processMatchingEvent(ctx context.Context, data []byte) bool {
	deliveredAt := time.Now()

	var message storage.MatchRequestedMessage
	if err := json.Unmarshal(data, &message); err != nil {
		// 消息格式损坏，重试也不会成功
		logger.Error().Err(err).Msg("解析匹配事件消息失败，丢弃")
		return true
	}

	logger.Info().
		Str("request_id", message.RequestID).
		Uint64("matching_request_id", message.MatchingRequestID).
		Uint64("user_id", message.UserID).
		Msg("开始处理匹配事件")

	req, err := h.store.GetMatchingRequestByID(ctx, message.MatchingRequestID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			// 消息引用的请求行不存在，对这条消息是致命的，不重试
			logger.Error().
				Str("request_id", message.RequestID).
				Uint64("matching_request_id", message.MatchingRequestID).
				Msg("匹配请求行不存在，丢弃消息")
			return true
		}
		logger.Error().Err(err).
			Str("request_id", message.RequestID).
			Msg("加载匹配请求失败，等待重试")
		return false
	}

	// 终态行的重复投递：COMPLETED按幂等重算覆盖缓存，FAILED直接ack
	// FAILED行不允许重算，否则行状态和缓存会出现矛盾(行FAILED但结果可查)
	if types.MatchingStatus(req.Status).IsTerminal() {
		if types.MatchingStatus(req.Status) == types.MatchingFailed {
			logger.Info().
				Str("request_id", message.RequestID).
				Msg("请求已是FAILED终态，重复投递不做处理")
			return true
		}
		logger.Info().
			Str("request_id", message.RequestID).
			Msg("请求已完成，按幂等重算处理重复投递")
		return h.recomputeForCompleted(ctx, req)
	}

	if err := h.store.MarkMatchingRequestProcessing(ctx, req.ID); err != nil {
		logger.Error().Err(err).
			Str("request_id", message.RequestID).
			Msg("更新状态为PROCESSING失败，等待重试")
		return false
	}

	user, err := h.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		// 用户加载失败一律映射为FAILED并ack：行已进入PROCESSING，
		// 重新入队会让请求卡在中间态
		var procErr error
		if errors.Is(err, storage.ErrRecordNotFound) {
			procErr = NewUserNotFoundError(message.RequestID)
		} else {
			procErr = NewDatabaseError(message.RequestID, err.Error())
		}
		logger.Error().Err(procErr).
			Str("request_id", message.RequestID).
			Msg("加载用户失败，标记FAILED")
		h.markFailed(ctx, req.ID, message.RequestID, procErr.Error())
		return true
	}

	result, err := h.algorithm.CalculateMatches(ctx, user)
	if err != nil {
		// 算法失败：标记FAILED并ack，缓存保持不动
		procErr := NewAlgorithmError(message.RequestID, err.Error())
		logger.Error().Err(procErr).
			Str("request_id", message.RequestID).
			Uint64("user_id", user.ID).
			Msg("匹配算法执行失败")
		h.markFailed(ctx, req.ID, message.RequestID, procErr.Error())
		return true
	}

	if err := h.cache.SetMatchingResult(ctx, user.ID, result); err != nil {
		procErr := NewCacheError(message.RequestID, err.Error())
		logger.Error().Err(procErr).
			Str("request_id", message.RequestID).
			Msg("写入匹配结果缓存失败")
		h.markFailed(ctx, req.ID, message.RequestID, procErr.Error())
		return true
	}

	processingTimeMs := time.Since(deliveredAt).Milliseconds()
	if err := h.store.CompleteMatchingRequest(ctx, req.ID, result.TotalCandidates, len(result.Matches), processingTimeMs); err != nil {
		// 缓存已写入，重投后幂等重算，安全
		logger.Error().Err(err).
			Str("request_id", message.RequestID).
			Msg("更新状态为COMPLETED失败，等待重试")
		return false
	}

	logger.Info().
		Str("request_id", message.RequestID).
		Uint64("user_id", user.ID).
		Int("total_candidates", result.TotalCandidates).
		Int("matched", len(result.Matches)).
		Int64("processing_time_ms", processingTimeMs).
		Msg("匹配事件处理完成")
	return true
}

// recomputeForCompleted COMPLETED请求的幂等重算，只覆盖缓存，不改写行状态
func (h *MatchingHandler) recomputeForCompleted(ctx context.Context, req *models.MatchingRequest) bool {
	user, err := h.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return true
		}
		return false
	}

	result, err := h.algorithm.CalculateMatches(ctx, user)
	if err != nil {
		logger.Warn().Err(err).
			Str("request_id", req.RequestID).
			Msg("重算失败，保留原有缓存")
		return true
	}

	if err := h.cache.SetMatchingResult(ctx, user.ID, result); err != nil {
		logger.Warn().Err(err).
			Str("request_id", req.RequestID).
			Msg("重算写缓存失败")
	}
	return true
}

// markFailed 尽力把请求标记为FAILED，失败只记录日志
func (h *MatchingHandler) markFailed(ctx context.Context, id uint64, requestID string, detail string) {
	if err := h.store.FailMatchingRequest(ctx, id); err != nil {
		logger.Error().Err(err).
			Str("request_id", requestID).
			Str("detail", detail).
			Msg("更新状态为FAILED失败")
	}
}
