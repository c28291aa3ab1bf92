package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"daily-prompt/handler"
	"daily-prompt/internal/auth"
	"daily-prompt/internal/config"
	"daily-prompt/internal/devserver"
	"daily-prompt/internal/integrations/openai"
	"daily-prompt/internal/integrations/paramstore"
	"daily-prompt/internal/repository"
	"daily-prompt/internal/usecase"
)

func main() {
	configPath := flag.String("config", "", "optional config file (.env, .yaml, .json)")
	devUser := flag.String("user", "dev-user", "subject of the bearer token printed on start")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := cfg.ValidateDev(); err != nil {
		fatal("invalid config", err)
	}

	store, err := repository.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		fatal("failed to open sqlite store", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.SeedQuestions != "" {
		n, err := devserver.SeedQuestions(ctx, store, cfg.SeedQuestions)
		if err != nil {
			fatal("failed to seed questions", err)
		}
		logger.Info("seeded questions", "count", n, "file", cfg.SeedQuestions)
	}

	// Secrets not given in the environment come from SSM.
	var (
		getter paramstore.Getter
		batch  usecase.ParamGetter
	)
	if cfg.UsesParamStore() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fatal("failed to load AWS config", err)
		}
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		getter, batch = params, params
	}

	openaiClient, err := openai.NewClient(getter, cfg.ParamPrefix,
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAITimeout}),
	)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	verifier, err := auth.NewVerifier(getter, cfg.ParamPrefix, auth.WithSecret(cfg.DevJWTSecret))
	if err != nil {
		fatal("failed to create token verifier", err)
	}
	feedbackService, err := usecase.NewFeedbackService(batch, openaiClient, cfg.ParamPrefix, cfg.MaxAnswerLength,
		usecase.WithModel(cfg.OpenAIModel))
	if err != nil {
		fatal("failed to create feedback service", err)
	}
	dailyService, err := usecase.NewDailyService(store, feedbackService, logger)
	if err != nil {
		fatal("failed to create daily service", err)
	}
	h, err := handler.NewHandler(dailyService, feedbackService, verifier, handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	token, err := verifier.Issue(ctx, *devUser, 24*time.Hour)
	if err != nil {
		fatal("failed to issue dev token", err)
	}
	logger.Info("dev bearer token", "user", *devUser, "token", token)

	srv := &http.Server{
		Addr:              cfg.DevAddr,
		Handler:           devserver.NewEngine(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dev server listening", "addr", cfg.DevAddr, "sqlite", cfg.SQLitePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("server failed", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
