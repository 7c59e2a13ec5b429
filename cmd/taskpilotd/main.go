package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"TaskPilot/internal/agent"
	"TaskPilot/internal/api"
	"TaskPilot/internal/auth"
	"TaskPilot/internal/config"
	"TaskPilot/internal/conversation"
	"TaskPilot/internal/events"
	"TaskPilot/internal/llm"
	"TaskPilot/internal/llm/openai"
	"TaskPilot/internal/todo"
	"TaskPilot/pkg/logger"
)

// main 是 TaskPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("taskpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("taskpilotd")

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := buildTaskStore(ctx, cfg)
	if err != nil {
		publisher.Close()
		return err
	}
	// Close 同时释放存储与事件发布器。
	tasks := todo.NewService(store, todo.WithPublisher(publisher))
	defer tasks.Close()

	conversations, err := buildConversationStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer conversations.Close()

	completer, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.ResolveAPIKey(),
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout(),
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,
	})
	if err != nil {
		return err
	}

	cascadeOpts := []llm.CascadeOption{llm.WithRequestTimeout(cfg.LLM.Timeout())}
	if cfg.LLM.FallbackModels != nil {
		cascadeOpts = append(cascadeOpts, llm.WithFallbackModels(cfg.LLM.FallbackModels))
	}
	cascade := llm.NewCascade(completer, cfg.LLM.Model, cascadeOpts...)
	ag := agent.New(cascade, tasks, agent.WithTurnTimeout(cfg.Agent.TurnTimeout()))

	authSvc, err := buildAuth(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, ag, tasks, conversations,
		api.WithAuth(authSvc),
		api.WithHistoryLimit(cfg.Agent.HistoryLimit),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()),
	)

	log.Info("taskpilotd starting",
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("conversation_store", cfg.Storage.ConversationStore.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("auth", string(authSvc.Mode())),
		slog.Any("models", cascade.Candidates()),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("TASKPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "taskpilot.yaml")
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
	}
	return config.Load(configPath)
}

func buildTaskStore(ctx context.Context, cfg *config.Config) (todo.Store, error) {
	ts := cfg.Storage.TaskStore
	switch ts.Driver {
	case "memory":
		return todo.NewMemoryStore(), nil
	case todo.DriverMySQL, todo.DriverSQLite:
		return todo.NewSQLStore(ctx, todo.SQLConfig{
			Driver:          ts.Driver,
			DSN:             ts.DSN,
			MaxOpenConns:    ts.MaxOpenConns,
			MaxIdleConns:    ts.MaxIdleConns,
			ConnMaxLifetime: time.Duration(ts.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(ts.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", ts.Driver)
	}
}

func buildConversationStore(ctx context.Context, cfg *config.Config) (conversation.Store, error) {
	cs := cfg.Storage.ConversationStore
	switch cs.Driver {
	case "memory":
		return conversation.NewMemoryStore(), nil
	case "redis":
		return conversation.NewRedisStore(ctx, conversation.RedisConfig{
			Address:  cs.Redis.Address,
			Password: cs.Redis.Password,
			DB:       cs.Redis.DB,
			Prefix:   cs.Redis.Prefix,
			TTL:      time.Duration(cs.TTLSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的对话存储驱动: %s", cs.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "noop":
		return events.Noop{}, nil
	case "memory":
		pub := events.NewMemoryPublisher(256)
		go drainEvents(pub.Events())
		return pub, nil
	case "redis":
		return events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Channel:  cfg.Events.Redis.Channel,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}

// drainEvents 在单机模式下把任务事件写入日志。
func drainEvents(ch <-chan events.Event) {
	log := logger.Named("events")
	for event := range ch {
		log.Debug("task event",
			slog.String("type", string(event.Type)),
			slog.String("task_id", event.TaskID.String()),
			slog.String("user_id", event.UserID.String()),
		)
	}
}

func buildAuth(cfg *config.Config) (*auth.Service, error) {
	devUser, err := uuid.Parse(cfg.Auth.DevUserID)
	if err != nil {
		return nil, fmt.Errorf("dev_user_id 不是合法的 UUID: %w", err)
	}
	return auth.NewService(auth.Config{
		Mode:      auth.Mode(cfg.Auth.Mode),
		Secret:    cfg.Auth.ResolveSecret(),
		Issuer:    cfg.Auth.Issuer,
		DevUserID: devUser,
	})
}
