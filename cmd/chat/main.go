package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/discovicke/DucklordChatking/internal/chatsync"
	"github.com/discovicke/DucklordChatking/internal/client"
	"github.com/discovicke/DucklordChatking/internal/config"
	clog "github.com/discovicke/DucklordChatking/internal/log"
	"github.com/discovicke/DucklordChatking/internal/tui"

	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "client config path (optional, defaults to ~/.config/ducklord/client.toml)")
	serverURL := flag.String("server", "", "server url (overrides config)")
	username := flag.String("user", "", "username (overrides config)")
	password := flag.String("password", "", "password (overrides config)")
	register := flag.Bool("register", false, "create the account before logging in")
	who := flag.Bool("who", false, "print registered usernames and exit")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ducklord: %v\n", err)
		return 1
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *password != "" {
		cfg.Password = *password
	}
	cfg.Register = cfg.Register || *register
	if cfg.Username == "" || cfg.Password == "" {
		fmt.Fprintln(os.Stderr, "ducklord: username and password are required")
		return 2
	}

	closeLog := initFileLog(cfg.LogFile)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := login(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ducklord: %v\n", err)
		return 1
	}

	if *who {
		return printUsers(ctx, sess)
	}

	opts := []chatsync.Option{
		chatsync.WithInterval(cfg.PollInterval),
		chatsync.WithHistoryCount(cfg.HistoryCount),
	}
	if events, err := sess.Subscribe(ctx); err != nil {
		log.Warn().Err(err).Msg("event stream unavailable, polling only")
	} else {
		opts = append(opts, chatsync.WithWake(events))
	}
	loop := chatsync.New(sess, opts...)
	if err := loop.LoadChatHistory(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ducklord: load history: %v\n", err)
		return 1
	}
	loop.StartPolling()

	err = tui.Run(tui.Options{Loop: loop, Username: sess.Username, Presence: sess, Context: ctx})
	loop.StopPolling()
	cancel()

	logoutCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := sess.Logout(logoutCtx); err != nil {
		log.Warn().Err(err).Msg("logout")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ducklord: %v\n", err)
		return 1
	}
	return 0
}

func login(ctx context.Context, cfg config.Client) (*client.Session, error) {
	c, err := client.New(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if cfg.Register {
		var apiErr *client.APIError
		if err := c.Register(ctx, cfg.Username, cfg.Password); err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict) {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	sess, err := c.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	log.Info().Str("username", sess.Username).Str("server", cfg.ServerURL).Msg("logged in")
	return sess, nil
}

func printUsers(ctx context.Context, sess *client.Session) int {
	defer func() {
		if err := sess.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("logout")
		}
	}()
	names, err := sess.ListUsernames(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ducklord: list users: %v\n", err)
		return 1
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return 0
}

// initFileLog 把日志写到文件，终端留给界面；文件打不开时丢弃日志。
func initFileLog(path string) func() {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			clog.InitWriter("prod", f)
			return func() { _ = f.Close() }
		}
	}
	clog.InitWriter("prod", io.Discard)
	return func() {}
}
