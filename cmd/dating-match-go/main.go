package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	apihandler "dating-match-go/internal/api/handler"
	"dating-match-go/internal/api/router"
	"dating-match-go/internal/config"
	"dating-match-go/internal/handler"
	"dating-match-go/internal/logger"
	"dating-match-go/internal/matcher"
	"dating-match-go/internal/outbox"
	"dating-match-go/internal/presence"
	"dating-match-go/internal/storage"
)

// 在线注册表的清理参数
const (
	presencePruneInterval = time.Minute
	presenceMaxIdle       = 30 * time.Minute
)

func main() {
	configPath := pflag.StringP("config", "c", "", "配置文件路径")
	pflag.Parse()

	// 初始化日志系统
	initLogger(*configPath)

	// 1. 加载配置文件
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置文件失败")
	}

	// 2. 初始化存储管理器
	ctx := context.Background()
	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储管理器失败")
	}
	defer storageManager.Close()

	// 3. 组装匹配算法和业务处理器
	algorithm := buildAlgorithm(cfg, storageManager)
	matchingHandler := handler.NewMatchingHandler(
		cfg,
		storageManager.MySQL,
		storageManager.Redis,
		storageManager.RabbitMQ,
		algorithm,
	)
	logger.Info().Msg("匹配处理器初始化成功")

	// 4. 启动匹配事件消费者worker池
	go func() {
		if err := matchingHandler.StartMatchingConsumer(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("启动匹配事件消费者失败")
		}
	}()

	// 5. 启动发件箱中继，补发直接发布失败的事件
	relay := outbox.NewMessageRelay(
		storageManager.MySQL.DB(),
		storageManager.RabbitMQ,
		stdlog.New(os.Stdout, "[outbox-relay] ", stdlog.LstdFlags),
		outbox.WithPollingInterval(config.GetDuration(cfg.Outbox.PollingInterval, 5*time.Second)),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxRetryCount(cfg.Outbox.MaxRetries),
	)
	relay.Start()
	defer relay.Stop()

	// 6. 在线注册表和定期清理任务
	registry := presence.NewRegistry()
	go func() {
		ticker := time.NewTicker(presencePruneInterval)
		defer ticker.Stop()
		for range ticker.C {
			if removed := registry.Prune(presenceMaxIdle); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("清理空闲在线用户")
			}
		}
	}()

	// 7. 创建HTTP服务器并注册路由
	h := server.Default(
		server.WithHostPorts(cfg.Server.Address),
	)

	matchingAPI := apihandler.NewMatchingAPI(matchingHandler)
	presignExpiry := time.Duration(cfg.MinIO.PresignExpiryMinutes) * time.Minute
	if presignExpiry <= 0 {
		presignExpiry = time.Hour
	}
	// MinIO是可选依赖，未配置时传nil接口让上传接口返回503
	var objects storage.ObjectStorage
	if storageManager.MinIO != nil {
		objects = storageManager.MinIO
	}
	profileAPI := apihandler.NewProfileAPI(objects, storageManager.MySQL, presignExpiry)

	router.RegisterRoutes(h, matchingAPI, profileAPI, storageManager.MySQL, registry)

	// 8. 启动HTTP服务器
	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	// 9. 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出...")

	// 10. 优雅关闭HTTP服务器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("服务器关闭失败")
	}

	logger.Info().Msg("优雅退出完成")
}

// buildAlgorithm 按配置组装匹配算法
// 配置了AI密钥时启用LLM契合度复评，初始化失败则退回纯启发式评分
func buildAlgorithm(cfg *config.Config, storageManager *storage.Storage) matcher.Algorithm {
	options := []matcher.ScorerOption{
		matcher.WithTopMatches(cfg.Matcher.TopMatches),
	}

	if storageManager.MinIO != nil {
		presignExpiry := time.Duration(cfg.MinIO.PresignExpiryMinutes) * time.Minute
		options = append(options, matcher.WithAvatarPresigner(storageManager.MinIO, presignExpiry))
	}

	if cfg.AI.APIKey != "" {
		chatModel, err := matcher.NewQwenChatModel(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.APIURL)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化LLM模型失败，禁用AI复评")
		} else {
			evaluator := matcher.NewLLMAffinityEvaluator(chatModel)
			evalTimeout := config.GetDuration(cfg.AI.EvalTimeout, 30*time.Second)
			options = append(options, matcher.WithAffinityJudge(evaluator, cfg.AI.MaxEvaluated, evalTimeout))
			logger.Info().Str("model", cfg.AI.Model).Msg("LLM契合度复评已启用")
		}
	}

	return matcher.NewProfileScorer(storageManager.MySQL, options...)
}

// 初始化日志系统
func initLogger(configPath string) {
	// 默认开发环境使用美化输出，生产环境使用JSON格式
	isProduction := os.Getenv("ENV") == "production"

	// 尝试加载配置文件
	cfg, err := config.LoadConfig(configPath)

	logConfig := logger.Config{
		Level:        "debug",
		Format:       "pretty",
		TimeFormat:   time.RFC3339,
		ReportCaller: true,
	}

	// 如果配置文件成功加载，使用配置文件中的日志设置
	if err == nil && cfg != nil {
		logConfig.Level = cfg.Logger.Level
		logConfig.Format = cfg.Logger.Format
		logConfig.TimeFormat = cfg.Logger.TimeFormat
		logConfig.ReportCaller = cfg.Logger.ReportCaller
	} else if isProduction {
		logConfig.Level = "info"
		logConfig.Format = "json"
		logConfig.ReportCaller = false
	}

	logger.Init(logConfig)

	logger.Logger = logger.Logger.With().
		Str("app", "dating-match-go").
		Str("version", "1.0.0").
		Logger()

	// 让Hertz框架日志也走zerolog，避免两套日志格式
	glog.SetLogger(hertzadapter.From(logger.Logger))
	glog.SetLevel(glog.LevelInfo)
}
