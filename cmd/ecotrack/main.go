package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/ecotrack"
	"github.com/diwise/ecotrack/internal/pkg/application/events"
	"github.com/diwise/ecotrack/internal/pkg/application/ingestion"
	"github.com/diwise/ecotrack/internal/pkg/application/schedule"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/messaging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/mqtt"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/router"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/internal/pkg/presentation/api"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const serviceName string = "ecotrack"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	corsOrigins
	policiesFile
	configurationFile
	dbDriver
	dbPath
	jwtSecret
	adminUsername
	adminEmail
	adminPassword
	openAQAPIKey
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8000",
		corsOrigins:   "",

		policiesFile:      "/opt/ecotrack/config/authz.rego",
		configurationFile: "/opt/ecotrack/config/config.yaml",

		dbDriver: "sqlite",
		dbPath:   "ecotrack.db",

		jwtSecret: "",

		adminUsername: "admin",
		adminEmail:    "admin@ecotrack.local",
		adminPassword: "",

		openAQAPIKey: "",
	}
}

type appConfig struct {
	events    *events.Config
	ingestion *ingestion.Config
}

type application struct {
	router  *chi.Mux
	svc     ecotrack.EcoTrack
	cfg     *appConfig
	closers []func()
}

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	flags := applyEnvironment(defaultFlags())
	err = parseFlags(flags, os.Args[1:])
	exitIf(err, logger, "failed to parse command line")

	cfg, err := loadConfiguration(ctx, flags[configurationFile])
	exitIf(err, logger, "could not load configuration file")
	applyAPIKeys(cfg, flags)

	policies, err := openOptional(flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initialize(ctx, flags, cfg, policies)
	exitIf(err, logger, "failed to initialize ecotrack")
	defer app.close()

	app.startBackgroundTasks(ctx)

	srv := &http.Server{
		Addr:              net.JoinHostPort(flags[listenAddress], flags[servicePort]),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Msg("starting to listen for connections")

	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		exitIf(err, logger, "failed to start request router")
	}

	logger.Info().Msg("shutting down")
}

func initialize(ctx context.Context, flags flagMap, cfg *appConfig, policies io.ReadCloser) (*application, error) {
	log := logging.GetFromContext(ctx)

	if policies != nil {
		defer policies.Close()
	}

	if flags[jwtSecret] == "" {
		return nil, errors.New("a jwt secret must be configured with JWT_SECRET or -secret")
	}

	app := &application{cfg: cfg}

	db, err := database.New(newConnector(ctx, flags))
	if err != nil {
		return nil, fmt.Errorf("could not create or connect to database: %w", err)
	}
	app.closers = append(app.closers, func() { db.Close() })

	publisher, err := newPublisher(ctx, cfg.events, app)
	if err != nil {
		app.close()
		return nil, err
	}

	app.svc = ecotrack.New(db, publisher)

	if flags[adminPassword] != "" {
		err = app.svc.EnsureAdmin(ctx, flags[adminUsername], flags[adminEmail], flags[adminPassword])
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to seed admin user: %w", err)
		}
		log.Info().Str("username", flags[adminUsername]).Msg("admin user ensured")
	}

	app.router, err = api.RegisterHandlers(ctx, router.New(serviceName, splitList(flags[corsOrigins])...), policies, flags[jwtSecret], app.svc)
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func newConnector(ctx context.Context, flags flagMap) database.ConnectorFunc {
	if flags[dbDriver] == "postgres" {
		return database.NewPostgreSQLConnector(ctx, database.LoadConfigFromEnv(ctx))
	}
	return database.NewSQLiteConnector(ctx, flags[dbPath])
}

func newPublisher(ctx context.Context, cfg *events.Config, app *application) (events.Publisher, error) {
	log := logging.GetFromContext(ctx)
	publishers := events.Publishers{}

	if cfg != nil && len(cfg.Notifications) > 0 {
		sender, err := events.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create event sender: %w", err)
		}
		publishers = append(publishers, sender)
	}

	brokerCfg := messaging.LoadConfiguration(serviceName)
	if brokerCfg.URL != "" {
		broker, err := messaging.NewBroker(ctx, brokerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to message broker: %w", err)
		}
		app.closers = append(app.closers, func() { broker.Close() })
		publishers = append(publishers, events.NewBrokerPublisher(broker))
		log.Info().Str("exchange", brokerCfg.Exchange).Msg("publishing indicator events to message broker")
	}

	return publishers, nil
}

func (app *application) startBackgroundTasks(ctx context.Context) {
	log := logging.GetFromContext(ctx)
	cfg := app.cfg.ingestion

	if cfg.OpenMeteo.Enabled {
		om := ingestion.NewOpenMeteo(cfg.OpenMeteo, app.svc)
		app.scheduleIngestion(ctx, "open-meteo", cfg.OpenMeteo.Interval, om.Run)
	}

	if cfg.OpenAQ.Enabled() {
		oaq := ingestion.NewOpenAQ(cfg.OpenAQ, app.svc)
		app.scheduleIngestion(ctx, "openaq", cfg.OpenAQ.Interval, oaq.Run)
	} else {
		log.Info().Msg("skipping openaq ingestion, OPENAQ_API_KEY is not set")
	}

	if cfg.MQTT.Broker != "" {
		sub, err := mqtt.NewSubscriber(ctx, cfg.MQTT, ingestion.NewTelemetryHandler(app.svc))
		if err != nil {
			log.Error().Err(err).Msg("failed to create mqtt subscriber")
			return
		}
		if err = sub.Connect(ctx); err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("failed to connect to mqtt broker")
			return
		}
		app.closers = append(app.closers, sub.Disconnect)
	}
}

func (app *application) scheduleIngestion(ctx context.Context, name string, interval time.Duration, run func(context.Context) (int, error)) {
	log := logging.GetFromContext(ctx).With().Str("job", name).Logger()

	task := schedule.Start(ctx, interval, func(ctx context.Context) {
		count, err := run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("ingestion failed")
			return
		}
		log.Info().Int("count", count).Msg("ingestion completed")
	})
	app.closers = append(app.closers, task.Stop)
}

// close releases resources in the reverse order they were acquired.
func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

func loadConfiguration(ctx context.Context, path string) (*appConfig, error) {
	log := logging.GetFromContext(ctx)

	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Warn().Str("path", path).Msg("configuration file not found, using defaults")
		b = nil
	}

	return parseConfiguration(b)
}

func parseConfiguration(b []byte) (*appConfig, error) {
	evtCfg, err := events.LoadConfiguration(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("invalid notification configuration: %w", err)
	}

	ingestCfg, err := ingestion.LoadConfiguration(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("invalid ingestion configuration: %w", err)
	}

	return &appConfig{events: evtCfg, ingestion: ingestCfg}, nil
}

// applyAPIKeys lets the environment provide api keys that are left out of the
// configuration file.
func applyAPIKeys(cfg *appConfig, flags flagMap) {
	if flags[openAQAPIKey] != "" {
		cfg.ingestion.OpenAQ.APIKey = flags[openAQAPIKey]
	}
}

func openOptional(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func applyEnvironment(flags flagMap) flagMap {
	envOrDef := func(name, def string) string {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	}

	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[corsOrigins] = envOrDef("CORS_ORIGINS", flags[corsOrigins])

	flags[policiesFile] = envOrDef("POLICIES_FILE", flags[policiesFile])
	flags[configurationFile] = envOrDef("CONFIG_FILE", flags[configurationFile])

	flags[dbDriver] = envOrDef("DB_DRIVER", flags[dbDriver])
	flags[dbPath] = envOrDef("SQLITE_PATH", flags[dbPath])

	flags[jwtSecret] = envOrDef("JWT_SECRET", flags[jwtSecret])

	flags[adminUsername] = envOrDef("ADMIN_USERNAME", flags[adminUsername])
	flags[adminEmail] = envOrDef("ADMIN_EMAIL", flags[adminEmail])
	flags[adminPassword] = envOrDef("ADMIN_PASSWORD", flags[adminPassword])

	flags[openAQAPIKey] = envOrDef("OPENAQ_API_KEY", flags[openAQAPIKey])

	return flags
}

// parseFlags lets command line arguments override defaults and environment variables.
func parseFlags(flags flagMap, args []string) error {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	fs.Func("policies", "an authorization policy file", apply(policiesFile))
	fs.Func("config", "ecotrack configuration file", apply(configurationFile))
	fs.Func("port", "port to listen on", apply(servicePort))
	fs.Func("cors", "comma separated list of allowed origins", apply(corsOrigins))
	fs.Func("db", "database driver, sqlite or postgres", apply(dbDriver))
	fs.Func("sqlite", "path to the sqlite database file", apply(dbPath))
	fs.Func("secret", "secret used to sign access tokens", apply(jwtSecret))

	return fs.Parse(args)
}

func splitList(s string) []string {
	return lo.FilterMap(strings.Split(s, ","), func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
