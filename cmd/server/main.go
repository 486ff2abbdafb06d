package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-relay-server/internal/config"
	"chat-relay-server/internal/server"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	gin.SetMode(cfg.GinMode)

	deps, err := server.BuildDeps(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("wiring")
	}

	router := server.NewRouter(deps)
	logger.Info().Str("addr", fmt.Sprintf(":%d", cfg.Port)).Msg("listening")
	logger.Fatal().Err(server.Run(cfg, router)).Msg("server exited")
}
