package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"readmaster/internal/usertoken"
	"readmaster/internal/util"
	"readmaster/pkg/ai"
	"readmaster/services/api/internal/app"
	"readmaster/services/api/internal/config"
	"readmaster/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	generator, err := buildGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to init text generator: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		ImportStream:   cfg.ImportStream,
		Generator:      generator,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              tokenVerifier,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		AllowedExtensions:          cfg.AllowedExtensions,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxyCIDRs:          cfg.TrustedProxyCIDRs,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		ImportRateLimitPerMinute:   cfg.ImportRateLimitPerMinute,
		UploadRateLimitPerMinute:   cfg.UploadRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	switch provider {
	case "", "openai":
		return ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), nil
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.LLMAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.LLMModel), nil
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.LLMBaseURL), cfg.LLMModel), nil
	default:
		return nil, fmt.Errorf("unknown llmProvider %q", cfg.LLMProvider)
	}
}
