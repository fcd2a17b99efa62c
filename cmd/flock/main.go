package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/flock"
	"github.com/absmach/flock/client"
	"github.com/absmach/flock/federation"
	fedapi "github.com/absmach/flock/federation/api"
	"github.com/absmach/flock/federation/middleware"
	"github.com/absmach/flock/pkg/mqtt"
	"github.com/absmach/flock/pkg/storage"
	"github.com/absmach/flock/strategy"
)

const (
	svcName         = "flock"
	pathEnv         = ".env"
	stopWaitTime    = 5 * time.Second
	httpIdleTimeout = 120 * time.Second
)

type envConfig struct {
	LogLevel   string `env:"FLOCK_LOG_LEVEL"   envDefault:"info"`
	InstanceID string `env:"FLOCK_INSTANCE_ID"`

	HTTPHost string `env:"FLOCK_HTTP_HOST" envDefault:""`
	HTTPPort string `env:"FLOCK_HTTP_PORT" envDefault:"9090"`

	MQTTAddress  string        `env:"FLOCK_MQTT_ADDRESS"  envDefault:"tcp://localhost:1883"`
	MQTTQoS      uint8         `env:"FLOCK_MQTT_QOS"      envDefault:"1"`
	MQTTTimeout  time.Duration `env:"FLOCK_MQTT_TIMEOUT"  envDefault:"30s"`
	MQTTUsername string        `env:"FLOCK_MQTT_USERNAME"`
	MQTTPassword string        `env:"FLOCK_MQTT_PASSWORD"`

	Strategy  string `env:"FLOCK_STRATEGY"   envDefault:"fedavg"`
	NumRounds uint64 `env:"FLOCK_NUM_ROUNDS" envDefault:"10"`

	FractionFit         float64 `env:"FLOCK_FRACTION_FIT"          envDefault:"0.1"`
	FractionEvaluate    float64 `env:"FLOCK_FRACTION_EVALUATE"     envDefault:"0.1"`
	MinFitClients       int     `env:"FLOCK_MIN_FIT_CLIENTS"       envDefault:"2"`
	MinEvaluateClients  int     `env:"FLOCK_MIN_EVALUATE_CLIENTS"  envDefault:"2"`
	MinAvailableClients int     `env:"FLOCK_MIN_AVAILABLE_CLIENTS" envDefault:"2"`
	AcceptFailures      bool    `env:"FLOCK_ACCEPT_FAILURES"       envDefault:"true"`

	Eta  float64 `env:"FLOCK_SERVER_LR" envDefault:"0.1"`
	EtaL float64 `env:"FLOCK_CLIENT_LR" envDefault:"0.1"`

	QFFLQ  float64 `env:"FLOCK_QFFL_Q"  envDefault:"0.2"`
	QFFLLR float64 `env:"FLOCK_QFFL_LR" envDefault:"0.1"`

	TFast              time.Duration `env:"FLOCK_TIMEOUT_FAST"`
	TSlow              time.Duration `env:"FLOCK_TIMEOUT_SLOW"          envDefault:"60s"`
	RFast              uint64        `env:"FLOCK_ROUNDS_FAST"           envDefault:"1"`
	RSlow              uint64        `env:"FLOCK_ROUNDS_SLOW"           envDefault:"1"`
	AlternatingTimeout bool          `env:"FLOCK_ALTERNATING_TIMEOUT"`
	DynamicTimeout     bool          `env:"FLOCK_DYNAMIC_TIMEOUT"`
	TimeoutPercentile  float64       `env:"FLOCK_TIMEOUT_PERCENTILE"    envDefault:"0.8"`
	ImportanceSampling bool          `env:"FLOCK_IMPORTANCE_SAMPLING"`

	CallTimeout time.Duration `env:"FLOCK_CALL_TIMEOUT" envDefault:"60s"`
	InitTimeout time.Duration `env:"FLOCK_INIT_TIMEOUT" envDefault:"5m"`
}

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "flock",
		Short: "Flock Coordinator",
		Long:  `Flock coordinates federated learning rounds across MQTT-connected training clients.`,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start coordinator",
		Long:  `Start the federation coordinator.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := startCoordinator(cmd.Context()); err != nil {
				cmd.PrintErrf("coordinator exited with error: %s\n", err.Error())
			}
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file overriding broker and federation settings")

	rootCmd.AddCommand(startCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func startCoordinator(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configPath != "" {
		fileCfg, err := flock.LoadConfig(configPath)
		if err != nil {
			return err
		}
		applyFileConfig(&cfg, fileCfg)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	tracer := noop.NewTracerProvider().Tracer(svcName)

	pubsub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.InstanceID, cfg.MQTTUsername, cfg.MQTTPassword, nil, cfg.MQTTTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}
	defer func() {
		if err := pubsub.Disconnect(context.Background()); err != nil {
			logger.Warn("failed to disconnect mqtt client", slog.Any("error", err))
		}
	}()

	cm := client.NewManager(logger, client.WithWaitTimeout(cfg.InitTimeout))
	listener := client.NewListener(pubsub, cm, logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to client announcements: %w", err)
	}

	str, err := buildStrategy(cfg, logger)
	if err != nil {
		return err
	}

	svc := federation.NewService(
		str,
		cm,
		storage.NewInMemoryStorage(),
		logger,
		federation.WithCallTimeout(cfg.CallTimeout),
		federation.WithInitTimeout(cfg.InitTimeout),
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := makeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	hs := &http.Server{
		Addr:        net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort),
		Handler:     fedapi.MakeHandler(svc, logger, cfg.InstanceID),
		IdleTimeout: httpIdleTimeout,
	}

	g.Go(func() error {
		logger.Info(svcName+" http server listening", slog.String("address", hs.Addr))
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopWaitTime)
		defer shutdownCancel()

		return hs.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		hist, err := svc.Run(ctx, cfg.NumRounds)
		if err != nil {
			return err
		}
		logger.Info("federation finished",
			slog.Uint64("rounds", cfg.NumRounds),
			slog.Int("recorded_rounds", len(hist.Rounds)),
		)

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(svcName+" service exited with error", slog.Any("error", err))

		return err
	}

	return nil
}

func applyFileConfig(cfg *envConfig, file *flock.Config) {
	if file.Broker.URL != "" {
		cfg.MQTTAddress = file.Broker.URL
	}
	if file.Broker.Username != "" {
		cfg.MQTTUsername = file.Broker.Username
	}
	if file.Broker.Password != "" {
		cfg.MQTTPassword = file.Broker.Password
	}
	if file.Broker.QoS != 0 {
		cfg.MQTTQoS = uint8(file.Broker.QoS)
	}
	if file.Server.Host != "" {
		cfg.HTTPHost = file.Server.Host
	}
	if file.Server.Port != "" {
		cfg.HTTPPort = file.Server.Port
	}
	if file.Federation.Strategy != "" {
		cfg.Strategy = file.Federation.Strategy
	}
	if file.Federation.NumRounds > 0 {
		cfg.NumRounds = uint64(file.Federation.NumRounds)
	}
}

func buildStrategy(cfg envConfig, logger *slog.Logger) (strategy.Strategy, error) {
	base := strategy.DefaultFedAvgConfig()
	base.FractionFit = cfg.FractionFit
	base.FractionEvaluate = cfg.FractionEvaluate
	base.MinFitClients = cfg.MinFitClients
	base.MinEvaluateClients = cfg.MinEvaluateClients
	base.MinAvailableClients = cfg.MinAvailableClients
	base.AcceptFailures = cfg.AcceptFailures

	switch cfg.Strategy {
	case "fedavg":
		return strategy.NewFedAvg(base, logger), nil
	case "fedadagrad", "fedadam", "fedyogi":
		opt := strategy.DefaultFedOptConfig()
		opt.FedAvgConfig = base
		opt.Eta = cfg.Eta
		opt.EtaL = cfg.EtaL
		switch cfg.Strategy {
		case "fedadagrad":
			return strategy.NewFedAdagrad(opt, logger)
		case "fedadam":
			return strategy.NewFedAdam(opt, logger)
		default:
			return strategy.NewFedYogi(opt, logger)
		}
	case "qfedavg":
		qcfg := strategy.DefaultQFedAvgConfig()
		qcfg.FedAvgConfig = base
		qcfg.Q = cfg.QFFLQ
		qcfg.LearningRate = cfg.QFFLLR
		return strategy.NewQFedAvg(qcfg, logger)
	case "fastandslow":
		fscfg := strategy.DefaultFastAndSlowConfig()
		fscfg.FedAvgConfig = base
		fscfg.RFast = cfg.RFast
		fscfg.RSlow = cfg.RSlow
		fscfg.TFast = cfg.TFast
		fscfg.TSlow = cfg.TSlow
		fscfg.AlternatingTimeout = cfg.AlternatingTimeout
		fscfg.DynamicTimeout = cfg.DynamicTimeout
		fscfg.DynamicTimeoutPercentile = cfg.TimeoutPercentile
		fscfg.ImportanceSampling = cfg.ImportanceSampling
		return strategy.NewFastAndSlow(fscfg, logger)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func makeMetrics(namespace, subsystem string) (*kitprometheus.Counter, *kitprometheus.Summary) {
	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_count",
		Help:      "Number of requests received.",
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_latency_microseconds",
		Help:      "Total duration of requests in microseconds.",
	}, []string{"method"})

	return counter, latency
}
