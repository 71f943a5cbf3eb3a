// Package main запускает бота учёта обменов и HTTP API аудита.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/scambi-bot/internal/bot"
	"github.com/mmeshcher/scambi-bot/internal/config"
	"github.com/mmeshcher/scambi-bot/internal/confirm"
	"github.com/mmeshcher/scambi-bot/internal/handler"
	"github.com/mmeshcher/scambi-bot/internal/middleware"
	"github.com/mmeshcher/scambi-bot/internal/repository"
	"github.com/mmeshcher/scambi-bot/internal/resolver"
	"github.com/mmeshcher/scambi-bot/internal/scheduler"
	"github.com/mmeshcher/scambi-bot/internal/service"
	"github.com/mmeshcher/scambi-bot/internal/telegram"
)

func main() {
	level := zap.NewAtomicLevel()
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	logger, _ := zcfg.Build()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.APISecret)
	if cfg.IssueTokenFor != 0 {
		if cfg.APISecret == "" {
			sugar.Fatal("API_SECRET is required to issue tokens")
		}
		fmt.Println(authMiddleware.IssueToken(cfg.IssueTokenFor))
		return
	}

	repo, err := newRepository(cfg, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	gw, err := telegram.NewGateway(cfg.BotToken, cfg.APIEndpoint, logger.Named("telegram"))
	if err != nil {
		sugar.Fatalw("telegram initialization error", "error", err.Error())
	}

	// svc создаётся после roster, а группа читается из состояния сервиса
	var svc *service.Service
	roster := bot.NewGroupRoster(gw, func() int64 { return svc.GroupID() })

	svc, err = service.NewService(
		repo,
		resolver.New(roster, repo),
		confirm.NewTracker(),
		bot.NewNotifier(gw, cfg.PointsThreshold),
		logger.Named("service"),
		service.Options{
			Threshold:            cfg.PointsThreshold,
			GiftAffectsPoints:    cfg.GiftAffectsPoints,
			DurableConfirmations: cfg.DurableConfirmations,
			ConfirmationTTL:      cfg.ConfirmationTTL,
		},
	)
	if err != nil {
		sugar.Fatalw("service initialization error", "error", err.Error())
	}
	defer svc.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	err = svc.InitState(initCtx, cfg.Seed())
	if err == nil {
		checkGroup(initCtx, gw, svc.GroupID(), logger)
	}
	cancelInit()
	if err != nil {
		sugar.Fatalw("state initialization error", "error", err.Error())
	}

	b := bot.New(gw, svc, logger.Named("bot"), bot.Options{EvidenceChatID: cfg.EvidenceChatID})

	h := handler.NewHandler(svc, logger.Named("http"), authMiddleware)
	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	sched, err := scheduler.New(ctx, b, logger.Named("scheduler"), scheduler.DefaultSweepSpec)
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	// Обработка обновлений Telegram
	g.Go(func() error {
		return gw.Poll(ctx, b)
	})

	// Очистка просроченных подтверждений
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting audit API", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newRepository(cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

// checkGroup проверяет, что бот состоит в обслуживаемой группе.
func checkGroup(ctx context.Context, gw *telegram.Gateway, groupID int64, logger *zap.Logger) {
	if groupID == 0 {
		logger.Warn("group is not configured, chat commands are ignored until GROUP_ID is set")
		return
	}
	self := gw.Self()
	if _, err := gw.GetMember(ctx, groupID, self.ID); err != nil {
		logger.Warn("bot is not a member of the group", zap.Int64("group_id", groupID), zap.Error(err))
		return
	}
	logger.Info("serving group", zap.Int64("group_id", groupID), zap.String("bot", self.Handle))
}
