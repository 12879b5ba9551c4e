package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"github.com/mdad-elec/cv-analysis-system/internal/api/handler"
	"github.com/mdad-elec/cv-analysis-system/internal/api/router"
	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/index"
	appCoreLogger "github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/outbox"
	"github.com/mdad-elec/cv-analysis-system/internal/processor"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/tracing"
	"github.com/mdad-elec/cv-analysis-system/pkg/llm"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		initLogger(appCoreLogger.Config{Level: "info"})
		glog.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg.Logger)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	chatModel, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		glog.Fatalf("初始化生成模型失败: %v", err)
	}

	extractor, err := processor.BuildTextExtractor(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化文本抽取器失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	flatIndex := index.NewFlatIndex(index.WithDimension(cfg.Embedding.Dimensions))
	embedderDone := flatIndex.LoadEmbedderAsync(ctx, processor.EmbedderLoader(cfg))

	procOpts := []processor.Option{processor.WithIndex(flatIndex)}
	if storageManager.MinIO != nil {
		procOpts = append(procOpts, processor.WithBlobReader(storageManager.MinIO))
	}
	if storageManager.Qdrant != nil {
		procOpts = append(procOpts, processor.WithVectorMirror(storageManager.Qdrant))
	}
	if storageManager.Redis != nil {
		procOpts = append(procOpts, processor.WithLocker(storageManager.Redis))
	}
	cvProcessor := processor.NewCVProcessor(extractor, processor.BuildProfileExtractor(chatModel, cfg), storageManager.MySQL, procOpts...)

	warmed, err := cvProcessor.WarmUp(ctx)
	if err != nil {
		glog.Errorf("加载已完成档案失败: %v", err)
	} else {
		glog.Infof("已加载 %d 份档案", warmed)
	}
	go func() {
		// 嵌入模型就绪后补齐缺失的向量
		if err := <-embedderDone; err == nil {
			if err := cvProcessor.RebuildIndex(ctx); err != nil {
				glog.Errorf("重建索引失败: %v", err)
			}
		}
	}()

	var queryRecorder processor.QueryRecorder
	if storageManager.Redis != nil {
		queryRecorder = storageManager.Redis
	}
	answerer := processor.BuildAnswerer(chatModel, cfg, flatIndex, cvProcessor.Resolver())
	queryService := processor.NewQueryService(answerer, cvProcessor.Pool(), queryRecorder)

	cvOpts := []handler.CVHandlerOption{}
	if storageManager.MinIO != nil {
		cvOpts = append(cvOpts, handler.WithBlobStore(storageManager.MinIO))
	}
	if storageManager.Redis != nil {
		cvOpts = append(cvOpts, handler.WithDeduper(storageManager.Redis))
	}

	var (
		messageRelay *outbox.MessageRelay
		stopConsumer []chan<- struct{}
	)
	if storageManager.RabbitMQ != nil && storageManager.MinIO != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")

		for i := 0; i < cfg.RabbitMQ.Workers; i++ {
			stop, err := storageManager.RabbitMQ.StartConsumer(cfg.RabbitMQ.Queue, cfg.RabbitMQ.PrefetchCount, cvProcessor.HandleDelivery)
			if err != nil {
				glog.Fatalf("启动简历解析消费者失败: %v", err)
			}
			stopConsumer = append(stopConsumer, stop)
		}
		cvOpts = append(cvOpts, handler.WithOutbox(storageManager.MySQL))
		glog.Infof("已启动 %d 个简历解析消费者", cfg.RabbitMQ.Workers)
	} else {
		glog.Warn("消息队列或对象存储不可用，上传的文档将在进程内处理")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(int(cfg.Upload.MaxUploadBytes())+(1<<20)),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s %d %s", string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode(), time.Since(start))
	})

	router.RegisterRoutes(h, router.Handlers{
		CV:     handler.NewCVHandler(cfg, storageManager.MySQL, cvProcessor, cvOpts...),
		Query:  handler.NewQueryHandler(queryService),
		Health: handler.NewHealthHandler(flatIndex),
	}, cfg.Server.APIKey)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	for _, stop := range stopConsumer {
		close(stop)
	}
	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg appCoreLogger.Config) {
	appCoreLogger.Init(cfg)
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
