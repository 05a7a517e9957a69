package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/dustwatch/internal/accuracy"
	"github.com/lox/dustwatch/internal/api"
	"github.com/lox/dustwatch/internal/cache"
	"github.com/lox/dustwatch/internal/config"
	"github.com/lox/dustwatch/internal/delivery"
	"github.com/lox/dustwatch/internal/forecast"
	"github.com/lox/dustwatch/internal/fusion"
	"github.com/lox/dustwatch/internal/httputil"
	"github.com/lox/dustwatch/internal/ingest"
	"github.com/lox/dustwatch/internal/logging"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
	"github.com/lox/dustwatch/internal/store"
)

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	DB        string `default:"data/dustwatch.db" env:"DUSTWATCH_DB" help:"Path to SQLite database."`
	Locations string `env:"DUSTWATCH_LOCATIONS" help:"YAML file listing monitored locations (defaults to UAE cities)."`
	Timezone  string `default:"Asia/Dubai" env:"DUSTWATCH_TIMEZONE" help:"Zone for diurnal and weekly forecast factors."`

	LogLevel  string `default:"info" env:"LOG_LEVEL" help:"Log level."`
	LogFormat string `default:"json" enum:"json,console" env:"LOG_FORMAT" help:"Log format (json, console)."`

	Horizon        int           `default:"72" env:"DUSTWATCH_HORIZON" help:"Forecast horizon in hours (max 120)."`
	MatchWindow    time.Duration `default:"30m" env:"DUSTWATCH_MATCH_WINDOW" help:"Window for matching predictions to observations."`
	OutlierSigma   float64       `default:"2" env:"DUSTWATCH_OUTLIER_SIGMA" help:"Outlier threshold in standard deviations."`
	FallbackMaxAge time.Duration `default:"5m" env:"DUSTWATCH_FALLBACK_MAX_AGE" help:"Oldest cached reading usable as a fallback."`
	FetchTimeout   time.Duration `default:"20s" env:"DUSTWATCH_FETCH_TIMEOUT" help:"Timeout for a single source fetch."`

	RedisAddr     string `env:"REDIS_ADDR" help:"Redis address for last-known cache and update delivery."`
	RedisPassword string `env:"REDIS_PASSWORD" help:"Redis password."`
	RedisDB       int    `default:"0" env:"REDIS_DB" help:"Redis database number."`
	RedisChannel  string `default:"dustwatch:updates" env:"REDIS_CHANNEL" help:"Redis channel for pushed updates."`

	AQICNToken        string `env:"AQICN_TOKEN" help:"AQICN API token."`
	OpenWeatherMapKey string `env:"OPENWEATHERMAP_API_KEY" help:"OpenWeatherMap API key."`
	WeatherAPIKey     string `env:"WEATHERAPI_KEY" help:"WeatherAPI.com API key."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Poll sources and serve the API."`
	Once    OnceCmd    `cmd:"" help:"Run a single cycle and exit."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
}

type ServeCmd struct {
	Port               string        `default:"8080" env:"PORT" help:"HTTP server port."`
	Interval           time.Duration `default:"5m" env:"DUSTWATCH_INTERVAL" help:"Time between cycles."`
	ValidationInterval time.Duration `default:"1h" env:"DUSTWATCH_VALIDATION_INTERVAL" help:"Time between maintenance runs."`
	Retention          time.Duration `default:"720h" env:"DUSTWATCH_RETENTION" help:"How long stored data is kept."`
	NoPoll             bool          `help:"Disable polling (server only, for local dev)."`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, g, ingest.Config{
		Interval:           c.Interval,
		ValidationInterval: c.ValidationInterval,
		Retention:          c.Retention,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.NoPoll {
		go a.scheduler.Run(ctx)
	} else {
		a.logger.Info("polling disabled")
	}

	server := api.NewServer(a.logger, c.Port, api.Deps{
		Locations: a.locations,
		Status:    a.scheduler,
		History:   a.store,
		Ensemble:  a.ensemble,
		Tracker:   a.tracker,
		Checker:   a.checker,
	})
	a.logger.Info("starting server", zap.String("port", c.Port))
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type OnceCmd struct{}

func (c *OnceCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, g, ingest.Config{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Restore(); err != nil {
		a.logger.Warn("restore state", zap.Error(err))
	}
	summary, err := a.scheduler.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	a.logger.Info("done",
		zap.Int("locations", summary.Locations),
		zap.Int("sources_ok", summary.SourcesOK),
		zap.Int("sources_failed", summary.SourcesFailed),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Duration("duration", summary.Duration))
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	logger, err := logging.New(g.LogLevel, g.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(g.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	logger.Info("database migrated", zap.Int("version", version))
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// app holds the services shared by the serve and once commands.
type app struct {
	logger    *zap.Logger
	db        *sql.DB
	store     *store.Store
	redis     *redis.Client
	locations []models.Location
	checker   *quality.Checker
	tracker   *accuracy.Tracker
	ensemble  *forecast.Ensemble
	scheduler *ingest.Scheduler
}

func newApp(ctx context.Context, g *Globals, cfg ingest.Config) (*app, error) {
	logger, err := logging.New(g.LogLevel, g.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}

	a.locations, err = config.LoadLocations(g.Locations)
	if err != nil {
		return nil, err
	}

	tz, err := time.LoadLocation(g.Timezone)
	if err != nil {
		logger.Warn("could not load timezone, using UTC", zap.String("timezone", g.Timezone), zap.Error(err))
		tz = time.UTC
	}

	a.db, err = openDB(g.DB)
	if err != nil {
		return nil, err
	}
	st := store.New(a.db, logger)
	if err := st.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.store = st

	var (
		lastKnown fusion.LastKnown    = fusion.NewMemoryLastKnown()
		publisher delivery.Publisher = delivery.Nop{}
	)
	if g.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     g.RedisAddr,
			Password: g.RedisPassword,
			DB:       g.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing", zap.String("addr", g.RedisAddr), zap.Error(err))
		}
		lastKnown = cache.NewLastKnown(a.redis, "", 0, logger)
		publisher = delivery.NewRedisPublisher(a.redis, g.RedisChannel, logger)
	}

	a.checker = quality.NewChecker(logger)
	a.tracker = accuracy.NewTracker(logger, g.MatchWindow)
	predictions := ingest.NewPredictionBuffer(a.tracker)
	a.ensemble = forecast.NewEnsemble(logger, forecast.Config{
		MaxHorizon: g.Horizon,
		Location:   tz,
		Locations:  a.locations,
		Recorder:   predictions,
		Calibrator: a.tracker,
	})
	engine := fusion.NewEngine(logger, a.checker, fusion.Config{
		OutlierSigma:   g.OutlierSigma,
		FallbackMaxAge: g.FallbackMaxAge,
		Primary:        ingest.OpenMeteoName,
		LastKnown:      lastKnown,
	})

	client := httputil.NewClient(httputil.DefaultTimeout)
	collector := ingest.NewCollector(logger, []ingest.Source{
		ingest.NewOpenMeteo(client),
		ingest.NewAQICN(client, g.AQICNToken),
		ingest.NewOpenWeatherMap(client, g.OpenWeatherMapKey),
		ingest.NewWeatherAPI(client, g.WeatherAPIKey),
	}, g.FetchTimeout)
	logger.Info("sources enabled", zap.Strings("sources", collector.Sources()))

	cfg.Locations = a.locations
	a.scheduler = ingest.NewScheduler(logger, cfg, ingest.Services{
		Collector:   collector,
		Engine:      engine,
		Checker:     a.checker,
		Ensemble:    a.ensemble,
		Tracker:     a.tracker,
		Predictions: predictions,
		Store:       st,
		Publisher:   publisher,
	})
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	a.logger.Sync()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dustwatch"),
		kong.Description("Dust hazard monitoring and forecasting for UAE cities."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
