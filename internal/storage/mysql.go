package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dating-match-go/internal/config"
	"dating-match-go/internal/storage/models"
	"dating-match-go/internal/tracing"
	"dating-match-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("dating-match-go/storage/mysql")

// ErrRecordNotFound re-exports gorm's not-found error for callers
// that should not import gorm directly.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, "otel-span", span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value("otel-span").(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		// 记录错误（如果有），但正确处理ErrRecordNotFound
		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 使用 GORM 的 AutoMigrate 功能自动迁移表结构
	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	// 迁移期间关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.User{},
		&models.Like{},
		&models.Report{},
		&models.MatchingRequest{},
		&models.OutboxMessage{},
	)

	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateMatchingRequest 插入一条新的匹配请求记录
func (m *MySQL) CreateMatchingRequest(ctx context.Context, req *models.MatchingRequest) error {
	return m.db.WithContext(ctx).Create(req).Error
}

// GetMatchingRequestByID 通过内部ID获取匹配请求
func (m *MySQL) GetMatchingRequestByID(ctx context.Context, id uint64) (*models.MatchingRequest, error) {
	var req models.MatchingRequest
	if err := m.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// GetMatchingRequestByRequestID 通过(关联令牌, 用户)二元组获取匹配请求
// 带userID条件，避免一个用户查询到别人的请求
func (m *MySQL) GetMatchingRequestByRequestID(ctx context.Context, requestID string, userID uint64) (*models.MatchingRequest, error) {
	var req models.MatchingRequest
	err := m.db.WithContext(ctx).
		Where("request_id = ? AND user_id = ?", requestID, userID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// MarkMatchingRequestProcessing 将请求状态置为PROCESSING
func (m *MySQL) MarkMatchingRequestProcessing(ctx context.Context, id uint64) error {
	return m.db.WithContext(ctx).
		Model(&models.MatchingRequest{}).
		Where("id = ?", id).
		Update("status", string(types.MatchingProcessing)).Error
}

// CompleteMatchingRequest 将请求置为COMPLETED并写入结果摘要
func (m *MySQL) CompleteMatchingRequest(ctx context.Context, id uint64, candidatesCount, matchedCount int, processingTimeMs int64) error {
	now := time.Now()
	return m.db.WithContext(ctx).
		Model(&models.MatchingRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             string(types.MatchingCompleted),
			"candidates_count":   candidatesCount,
			"matched_count":      matchedCount,
			"processing_time_ms": processingTimeMs,
			"processed_at":       now,
		}).Error
}

// FailMatchingRequest 将请求置为FAILED终态
// 结果字段保持NULL，缓存不写入
func (m *MySQL) FailMatchingRequest(ctx context.Context, id uint64) error {
	now := time.Now()
	return m.db.WithContext(ctx).
		Model(&models.MatchingRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       string(types.MatchingFailed),
			"processed_at": now,
		}).Error
}

// GetUserByID 通过ID获取用户
func (m *MySQL) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	var user models.User
	if err := m.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAccessToken 通过访问令牌获取用户，认证中间件使用
func (m *MySQL) GetUserByAccessToken(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	err := m.db.WithContext(ctx).
		Where("access_token = ? AND is_active = ?", token, true).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserAvatar 更新用户头像的对象存储key
func (m *MySQL) UpdateUserAvatar(ctx context.Context, userID uint64, objectKey string) error {
	return m.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("avatar_object_key", objectKey).Error
}

// ListCandidates 列出某用户的匹配候选人
// 排除规则通过显式子查询表达:
//   - 自己、已停用的用户
//   - 自己已点赞过的用户(已表达过意向，无需重复推荐)
//   - 自己举报过的、以及举报过自己的用户
func (m *MySQL) ListCandidates(ctx context.Context, userID uint64) ([]models.User, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.ListCandidates",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.sql.table", "users"),
		attribute.Int64("app.user_id", int64(userID)),
	)

	likedSub := m.db.Model(&models.Like{}).
		Select("to_user_id").
		Where("from_user_id = ?", userID)
	reportedSub := m.db.Model(&models.Report{}).
		Select("reported_user_id").
		Where("reporter_user_id = ?", userID)
	reporterSub := m.db.Model(&models.Report{}).
		Select("reporter_user_id").
		Where("reported_user_id = ?", userID)

	var candidates []models.User
	err := m.db.WithContext(ctx).
		Where("id <> ?", userID).
		Where("is_active = ?", true).
		Where("id NOT IN (?)", likedSub).
		Where("id NOT IN (?)", reportedSub).
		Where("id NOT IN (?)", reporterSub).
		Find(&candidates).Error
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	span.SetAttributes(attribute.Int("app.candidates_count", len(candidates)))
	span.SetStatus(codes.Ok, "")
	return candidates, nil
}

// SaveOutboxMessage 写入一条发件箱记录，作为直接发布失败时的兜底
func (m *MySQL) SaveOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error {
	return m.db.WithContext(ctx).Create(msg).Error
}
