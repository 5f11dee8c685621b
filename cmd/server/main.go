// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"doc-smart-go/internal/chunker"
	"doc-smart-go/internal/config"
	"doc-smart-go/internal/handler"
	"doc-smart-go/internal/middleware"
	"doc-smart-go/internal/model"
	"doc-smart-go/internal/pipeline"
	"doc-smart-go/internal/repository"
	"doc-smart-go/internal/scorer"
	"doc-smart-go/internal/service"
	"doc-smart-go/pkg/clip"
	"doc-smart-go/pkg/converter"
	"doc-smart-go/pkg/database"
	"doc-smart-go/pkg/embedding"
	"doc-smart-go/pkg/es"
	"doc-smart-go/pkg/kafka"
	"doc-smart-go/pkg/llm"
	"doc-smart-go/pkg/log"
	"doc-smart-go/pkg/storage"
	"doc-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO、ES 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Document{}, &model.ParentChunkRow{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	parentRepo := repository.NewParentRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	converterClient := converter.NewClient(cfg.Converter)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	clipClient := clip.NewClient(cfg.Clip)
	imageScorer := scorer.New(clipClient, cfg.Clip)
	docChunker := chunker.New(cfg.Chunking)

	documentService := service.NewDocumentService(docRepo, parentRepo, cfg.MinIO, cfg.Elasticsearch, cfg.Converter)
	retrievalService := service.NewRetrievalService(embeddingClient, es.ESClient, cfg.Elasticsearch.IndexName, parentRepo)
	chatService := service.NewChatService(retrievalService, llmClient, imageScorer, conversationRepo)

	// 6. 初始化文档摄取管道 (Processor)
	processor := pipeline.NewProcessor(
		converterClient,
		embeddingClient,
		docChunker,
		cfg.Elasticsearch,
		cfg.MinIO,
		cfg.Embedding,
		cfg.Converter,
		parentRepo,
		docRepo,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 初始化导入 initdocs 目录：幂等，已就绪的文档直接跳过
	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	go initSeedDocuments(initCtx, "initdocs", docRepo, documentService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	documentHandler := handler.NewDocumentHandler(documentService)
	imageHandler := handler.NewImageHandler(cfg.Converter)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		// Document 路由组
		documents := apiV1.Group("/documents")
		{
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.DELETE("/:stem", documentHandler.Delete)
			documents.DELETE("", documentHandler.Clear)
			documents.GET("/:stem/download", documentHandler.GenerateDownloadURL)
		}

		// 落盘图片静态伺服
		apiV1.GET("/images/:stem/:filename", imageHandler.Serve)

		// Chat 路由 (WebSocket)
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}
	}
	r.GET("/chat/:token", chatHandler.Handle)

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

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 通知编码器服务卸载模型
	clipClient.Shutdown(ctx)

	// Kafka 消费者是一个循环，会在程序退出时自然结束。
	// 如果需要更精细的控制，可以在 StartConsumer 中实现一个关闭通道。
	log.Info("服务已优雅关闭")
}

// initSeedDocuments 扫描目录下文件并通过标准上传流程导入（幂等）。
func initSeedDocuments(ctx context.Context, dir string, docRepo repository.DocumentRepository, docSvc service.DocumentService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedDocuments: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(info.Name()))
		if ext != ".pdf" && ext != ".md" {
			return nil
		}

		stem := service.DocStem(info.Name())
		// 幂等检查：已就绪则跳过
		if doc, derr := docRepo.FindByStem(stem); derr == nil && doc != nil && doc.Status == model.DocStatusReady {
			log.Infof("initSeedDocuments: 已存在，跳过: %s", info.Name())
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("initSeedDocuments: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		if _, err := docSvc.Upload(ctx, info.Name(), info.Size(), f, false); err != nil {
			log.Warnf("initSeedDocuments: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedDocuments: 导入完成并已触发摄取: %s", info.Name())
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedDocuments: 遍历目录发生错误: %v", walkErr)
	}
}
