// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sitechat-go/internal/chat"
	"sitechat-go/internal/config"
	"sitechat-go/internal/handler"
	"sitechat-go/internal/middleware"
	"sitechat-go/internal/moderation"
	"sitechat-go/internal/pipeline"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/retrieval"
	"sitechat-go/internal/service"
	"sitechat-go/internal/tokenizer"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/database"
	"sitechat-go/pkg/kafka"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN, repository.Models()...)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	// 4. 初始化 AI 服务并确认助手可用
	aiClient := ai.NewClient(cfg.OpenAI)
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	assistantID, err := aiClient.SetupAssistant(setupCtx)
	cancelSetup()
	if err != nil {
		log.Fatalf("AI 助手初始化失败: %s", ai.UserMessage(err))
	}
	log.Infof("AI 助手已就绪: %s", assistantID)

	tok, err := tokenizer.NewBPE(cfg.Chunking.Encoding)
	if err != nil {
		log.Fatal("分词器初始化失败", err)
	}

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	cacheRepo := repository.NewCacheRepository(database.RDB)
	sessionRepo := repository.NewSessionRepository(database.RDB, cfg.Chat.HistoryLimit, cfg.Chat.SessionTTL)

	// 6. 组装核心组件 (依赖注入)
	gate := moderation.NewGate(aiClient, cacheRepo, cfg.Moderation.Thresholds, cfg.Moderation.CacheTTL)
	searcher := retrieval.NewSearcher(chunkRepo, cfg.Retrieval.SimilarityThreshold, cfg.Retrieval.ContextBudget)
	processor := pipeline.NewProcessor(aiClient, chunkRepo, cfg.OpenAI.EmbeddingBatch)
	machine := chat.NewMachine(aiClient, gate, searcher, cacheRepo, sessionRepo, chat.Options{
		PollInterval:  cfg.Chat.PollInterval,
		QueryCacheTTL: cfg.Chat.QueryCacheTTL,
	})

	producer := kafka.NewProducer(cfg.Kafka)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, jwtManager, database.RDB)
	knowledgeService := service.NewKnowledgeService(docRepo, chunkRepo, tokenizer.NewChunker(tok, cfg.Chunking.MaxTokens),
		gate, processor, producer, service.KnowledgeOptions{
			ModerationSplit: cfg.Chunking.ModerationSplit,
			MaxChunks:       cfg.Retrieval.MaxChunks,
		})

	if err := userService.EnsureAdmin(context.Background(), cfg.Admin.Username, cfg.Admin.Password); err != nil {
		log.Fatal("管理员账号初始化失败", err)
	}

	// 7. 启动后台 Kafka 消费者与知识导入，停机时一并取消
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	go kafka.StartConsumer(bgCtx, cfg.Kafka, processor, database.RDB)
	go service.SeedKnowledge(bgCtx, knowledgeService, cfg.Seed.Dir)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authHandler := handler.NewAuthHandler(userService)
	chatHandler := handler.NewChatHandler(machine)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeService)

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// 聊天接口对站点访客公开
		apiV1.POST("/chat", chatHandler.Ask)
		apiV1.GET("/chat", chatHandler.Poll)

		auth := apiV1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/me", authHandler.Profile)
			admin.POST("/logout", authHandler.Logout)

			data := admin.Group("/data")
			{
				data.GET("", knowledgeHandler.ListData)
				data.POST("", knowledgeHandler.AddData)
				data.GET("/:id", knowledgeHandler.GetData)
				data.DELETE("/:id", knowledgeHandler.DeleteData)
				data.POST("/:id/needs-update", knowledgeHandler.MarkNeedsUpdate)
			}

			knowledge := admin.Group("/knowledge")
			{
				knowledge.GET("", knowledgeHandler.ListKnowledge)
				knowledge.POST("", knowledgeHandler.AddKnowledge)
				knowledge.PUT("/:id", knowledgeHandler.UpdateKnowledge)
				knowledge.DELETE("/:id", knowledgeHandler.DeleteData)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	cancelBg()
	log.Info("服务已优雅关闭")
}
