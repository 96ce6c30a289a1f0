// Package main is the entry point for the spriteforge asset pipeline.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/spriteforge/internal/config"
	"github.com/Faultbox/spriteforge/internal/devserver"
	"github.com/Faultbox/spriteforge/internal/logger"
	"github.com/Faultbox/spriteforge/internal/pipeline"
	"github.com/Faultbox/spriteforge/internal/sprites"
	"github.com/Faultbox/spriteforge/internal/watch"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: spriteforge [flags] <command>

commands:
  build    compile stale sheets and exit
  rebuild  clean build: recompile everything and exit
  watch    build, then keep rebuilding on source changes
  clean    delete all emitted artifacts

`)
	os.Exit(2)
}

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	args := config.Args()
	if len(args) != 1 {
		usage()
	}
	command := args[0]

	clean := false
	switch command {
	case "build", "watch", "clean":
	case "rebuild":
		clean = true
	default:
		usage()
	}

	logger.Sugar.Debugf("Config: %+v", cfg)

	ctx := pipeline.NewContext(cfg.Build.Production, clean)

	var router *watch.Router
	var watchRouter pipeline.WatchRouter
	if command == "watch" {
		router, err = watch.NewRouter(time.Duration(cfg.Build.WatchDebounceMS) * time.Millisecond)
		if err != nil {
			logger.Error("failed to create watch router", zap.Error(err))
			os.Exit(1)
		}
		defer router.Close()
		watchRouter = router
	}

	orch := pipeline.NewOrchestrator(ctx, watchRouter)
	if err := orch.Register(sprites.New(cfg.Assets.SpriteRoot, cfg.Assets.OutputDir)); err != nil {
		logger.Error("failed to register plugin", zap.Error(err))
		os.Exit(1)
	}

	if err := orch.Run(pipeline.PhaseInit); err != nil {
		logger.Error("init failed", zap.Error(err))
		os.Exit(1)
	}

	switch command {
	case "clean":
		if err := orch.Run(pipeline.PhaseClean); err != nil {
			logger.Error("clean failed", zap.Error(err))
			os.Exit(1)
		}
	case "build", "rebuild":
		if err := orch.Run(pipeline.PhaseBuild); err != nil {
			logger.Error("build failed", zap.Error(err))
			os.Exit(1)
		}
	case "watch":
		if err := orch.Run(pipeline.PhaseBuild); err != nil {
			logger.Error("initial build failed", zap.Error(err))
			os.Exit(1)
		}
		if err := orch.Run(pipeline.PhaseWatch); err != nil {
			logger.Error("watch setup failed", zap.Error(err))
			os.Exit(1)
		}
		router.Start()

		if cfg.Server.Enabled {
			srv := devserver.New(cfg.Server.Addr, cfg.Assets.OutputDir, ctx.Events)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					logger.Error("dev server stopped", zap.Error(err))
				}
			}()
		}

		logger.Sugar.Infof("watching %s (ctrl-c to stop)", cfg.Assets.SpriteRoot)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
	}

	if n := ctx.Log.ErrorCount(); n > 0 {
		logger.Sugar.Errorf("finished with %d error(s)", n)
		os.Exit(1)
	}
}
