package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/config"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
	pgstore "trivia-live-service/internal/infra/postgres"
	redisinfra "trivia-live-service/internal/infra/redis"
	transport "trivia-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Change feed: Redis pub/sub when configured so events cross process
	// boundaries, in-process hub otherwise.
	var (
		publisher pgstore.FeedPublisher
		feed      app.ChangeFeed
	)
	if redisClient != nil {
		f := redisinfra.NewFeed(redisClient)
		publisher, feed = f, f
	} else {
		hub := memory.NewHub()
		publisher, feed = hub, hub
	}

	var gameService *app.GameService
	var voteService *app.VoteService
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := pgstore.NewStore(pool, publisher)
		var questions app.QuestionStore = store
		if redisClient != nil {
			catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
			questions = redisinfra.NewCatalogCache(redisClient, store, catalogTTL)
		}
		gameService = app.NewGameServiceParts(store, questions, store, store, feed)
		voteService = app.NewVoteService(store)
	} else {
		store := memory.NewStore()
		seedDemoGame(store)
		gameService = app.NewGameService(store)
		voteService = app.NewVoteService(store)
	}

	var tokenAuth *jwtauth.JWTAuth
	if cfg.Auth.JWTSecret != "" {
		tokenAuth = jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	}

	wsHandler := transport.NewWSHandler(gameService, clockwork.NewRealClock())
	restHandler := transport.NewRestHandler(gameService, voteService)
	router := transport.NewRouter(wsHandler, restHandler, tokenAuth)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting trivia service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoGame installs a small joinable game so the in-memory mode is
// playable out of the box; swap in Postgres for real content.
func seedDemoGame(store *memory.Store) {
	gameID := uuid.NewString()
	store.SeedGame(domain.Game{
		ID:        gameID,
		Title:     "Demo Trivia",
		GameCode:  "DEMO01",
		Status:    domain.GameStatusPending,
		CreatedAt: time.Now(),
	}, []domain.Question{
		{
			ID:                      uuid.NewString(),
			GameID:                  gameID,
			QuestionIndex:           0,
			QuestionText:            "Which landmark is hidden in this image?",
			Options:                 []string{"Eiffel Tower", "Big Ben", "Colosseum", "Taj Mahal"},
			CorrectOption:           0,
			RevealTimeSeconds:       18,
			QuestionDurationSeconds: 30,
			TotalPoints:             90,
		},
		{
			ID:                      uuid.NewString(),
			GameID:                  gameID,
			QuestionIndex:           1,
			QuestionText:            "Which animal is this?",
			Options:                 []string{"Red panda", "Raccoon", "Fox", "Badger"},
			CorrectOption:           0,
			RevealTimeSeconds:       18,
			QuestionDurationSeconds: 30,
			TotalPoints:             90,
		},
	})
}
