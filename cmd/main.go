package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"daily-prompt/handler"
	"daily-prompt/internal/auth"
	"daily-prompt/internal/config"
	"daily-prompt/internal/integrations/openai"
	"daily-prompt/internal/integrations/paramstore"
	"daily-prompt/internal/repository"
	"daily-prompt/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := cfg.ValidateLambda(); err != nil {
		fatal("invalid config", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}
	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAITimeout}),
	)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	verifier, err := auth.NewVerifier(ssmClient, cfg.ParamPrefix)
	if err != nil {
		fatal("failed to create token verifier", err)
	}

	// ---- Handler ----
	feedbackService, err := usecase.NewFeedbackService(ssmClient, openaiClient, cfg.ParamPrefix, cfg.MaxAnswerLength)
	if err != nil {
		fatal("failed to create feedback service", err)
	}
	dailyService, err := usecase.NewDailyService(stateClient, feedbackService, logger)
	if err != nil {
		fatal("failed to create daily service", err)
	}

	h, err := handler.NewHandler(dailyService, feedbackService, verifier, handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
