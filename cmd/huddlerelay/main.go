package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/logging"
	"github.com/matheus3301/huddle/internal/relay"
	"github.com/matheus3301/huddle/internal/session"
)

// listFlag collects a repeatable flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, " ") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	addrFlag := flag.String("addr", "", "listen address (overrides relay.addr)")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	var users, seeds listFlag
	flag.Var(&users, "user", "known user as id=Display Name (repeatable)")
	flag.Var(&seeds, "seed", "conversation to create at startup as owner,member[,member...] (repeatable)")
	flag.Parse()

	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Console(level)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Resolve(session.ConfigPath(), session.EnvPath(), ".env")
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	addr := cfg.Relay.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	known := make(map[string]string, len(users))
	for _, u := range users {
		id, name, _ := strings.Cut(u, "=")
		if name == "" {
			name = id
		}
		known[id] = name
	}

	gin.SetMode(gin.ReleaseMode)
	r := relay.New(relay.Options{
		Users:        known,
		AllowOrigins: cfg.Relay.AllowOrigins,
		Logger:       logger,
	})
	for _, s := range seeds {
		members := strings.Split(s, ",")
		conv, err := r.CreateConversation(members[0], "", "", members[1:]...)
		if err != nil {
			logger.Fatal("seed conversation", zap.String("seed", s), zap.Error(err))
		}
		logger.Info("seeded conversation", zap.String("conversation_id", conv.ID), zap.Strings("members", members))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("relay listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("relay server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("relay shutting down")
	r.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
