package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/chain"
	"github.com/stackconsult/workflowcore/internal/config"
	"github.com/stackconsult/workflowcore/internal/database"
	"github.com/stackconsult/workflowcore/internal/execution"
	"github.com/stackconsult/workflowcore/internal/httpapi"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("workflowcore\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}).Info("starting workflowcore")

	arangoClient, err := database.NewArangoClient(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to ArangoDB")
	}
	defer arangoClient.Close()

	repo, err := workflow.NewArangoRepository(arangoClient.Database(), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize workflow repository")
	}

	workflows, err := workflow.NewService(repo, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize workflow service")
	}

	registry := agent.NewRegistry()
	agent.RegisterBuiltins(registry)

	executions := execution.NewService(repo, workflows, registry, logger, cfg.Orchestration.MaxConcurrency)

	chainManager := chain.NewManager(
		repo,
		executions,
		logger,
		time.Duration(cfg.Orchestration.ChainPollIntervalMs)*time.Millisecond,
		time.Duration(cfg.Orchestration.ChainPollTimeoutSecs)*time.Second,
	)

	handler := httpapi.NewHandler(workflows, executions, chainManager)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.WithField("addr", addr).Info("listening")
	if err := router.Run(addr); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
