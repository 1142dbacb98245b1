package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/config"
	clog "github.com/discovicke/DucklordChatking/internal/log"
	"github.com/discovicke/DucklordChatking/internal/mw"
	"github.com/discovicke/DucklordChatking/internal/server"
	"github.com/discovicke/DucklordChatking/internal/service"
	"github.com/discovicke/DucklordChatking/internal/store"
	"github.com/discovicke/DucklordChatking/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志、构建内存存储并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer := auth.NewIssuer(cfg.JWTSecret, time.Duration(cfg.SessionTTLMinutes)*time.Minute)
	users := store.NewUserRegistry(store.WithTokenIssuer(issuer.Issue), store.WithOnlineWindow(cfg.OnlineWindow))
	messages := store.NewMessageLog(users, store.NewNotifier())
	userSvc := service.NewUserService(users)
	msgSvc := service.NewMessageService(users, messages, cfg.HistoryLimit, cfg.MaxMessageLength)

	if cfg.SeedAdminUsername != "" {
		if err := userSvc.CreateAdmin(cfg.SeedAdminUsername, cfg.SeedAdminPassword); err != nil {
			log.Fatal().Err(err).Str("username", cfg.SeedAdminUsername).Msg("seed admin")
		}
		log.Info().Str("username", cfg.SeedAdminUsername).Msg("seeded admin account")
	}

	hub := ws.NewHub(msgSvc)
	go hub.Run(ctx)

	// 客户端默认每 150ms 拉取一次，限速要给它留出余量。
	limiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.SetupRouter(cfg, userSvc, msgSvc, issuer, hub, limiter),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server run")
	}
}
