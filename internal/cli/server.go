package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/config"
	"timed-quiz-service/internal/infra/memory"
	"timed-quiz-service/internal/infra/opentdb"
	pgarchive "timed-quiz-service/internal/infra/postgres"
	redisstore "timed-quiz-service/internal/infra/redis"
	transport "timed-quiz-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	defaultQuestionCount = 15
	defaultQuizDuration  = 30 * time.Minute
	defaultTickInterval  = 250 * time.Millisecond
	defaultFetchTimeout  = 15 * time.Second
	defaultSessionTTL    = 2 * time.Hour
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
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

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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

	var store app.SessionStore = memory.NewSessionStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		store = redisstore.NewSessionStore(client, config.TTLDuration(cfg.Redis.TTL, defaultSessionTTL))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("session store: redis")
	} else {
		log.Info().Msg("session store: in-memory")
	}

	source := opentdb.NewClient(cfg.Quiz.SourceURL, config.TTLDuration(cfg.Quiz.FetchTimeout, defaultFetchTimeout))

	opts := []app.Option{app.WithLogger(log)}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts = append(opts, app.WithArchive(pgarchive.NewReportArchive(pool)))
		log.Info().Msg("report archive: postgres")
	}

	service := app.NewSessionService(
		store,
		source,
		cfg.QuestionCount(defaultQuestionCount),
		config.TTLDuration(cfg.Quiz.Duration, defaultQuizDuration),
		opts...,
	)
	countdown := app.NewCountdown(service, config.TTLDuration(cfg.Quiz.TickInterval, defaultTickInterval), log)

	serverCtx, cancelRunners := context.WithCancel(ctx)
	defer cancelRunners()

	handler := transport.NewHandler(serverCtx, service, countdown, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	cancelRunners()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
