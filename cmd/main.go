package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"lark-bridge/handler"
	"lark-bridge/internal/config"
	"lark-bridge/internal/integrations/anthropic"
	"lark-bridge/internal/integrations/lark"
	"lark-bridge/internal/integrations/paramstore"
	"lark-bridge/internal/repository"
	"lark-bridge/internal/usecase"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	var kv repository.KV
	switch cfg.StateBackend {
	case config.BackendDynamoDB:
		kv, err = repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	default:
		kv, err = repository.NewUpstash(ssmClient, cfg.ParamPrefix, cfg.UpstashURL)
	}
	if err != nil {
		logger.Error("failed to create state client", "backend", cfg.StateBackend, "err", err)
		os.Exit(1)
	}

	sessions, err := repository.NewSessionStore(kv, cfg.MaxHistoryTurns)
	if err != nil {
		logger.Error("failed to create session store", "err", err)
		os.Exit(1)
	}
	dedup, err := repository.NewDedupGate(kv)
	if err != nil {
		logger.Error("failed to create dedup gate", "err", err)
		os.Exit(1)
	}

	anthropicClient, err := anthropic.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		logger.Error("failed to create Anthropic client", "err", err)
		os.Exit(1)
	}
	larkClient, err := lark.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		logger.Error("failed to create Lark client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	processService, err := usecase.NewProcessService(ssmClient, anthropicClient, larkClient, sessions, dedup, cfg.ParamPrefix, logger)
	if err != nil {
		logger.Error("failed to create process service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(processService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
