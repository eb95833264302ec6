package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/connectors"
	"github.com/ternarybob/trawler/internal/elastic"
	"github.com/ternarybob/trawler/internal/ingest"
	"github.com/ternarybob/trawler/internal/services/orchestrator"
	"github.com/ternarybob/trawler/internal/sources"
)

var (
	configFile   = flag.String("config-file", "", "Configuration file path (TOML or YAML)")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	debugMode    = flag.Bool("debug", false, "Force debug log level")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Trawler version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	configPath := *configFile
	if configPath == "" {
		configPath = *configFileC
	}
	if configPath == "" {
		// Auto-discover a config file next to the binary invocation
		for _, candidate := range []string{"trawler.toml", "trawler.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if *debugMode {
		config.Logging.Level = "debug"
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("version", common.GetFullVersion()).
		Str("environment", config.Environment).
		Str("elasticsearch", config.Elasticsearch.Host).
		Strs("service_types", config.Service.ServiceTypes).
		Msg("Starting trawler")

	if err := run(config, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Service failed")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := elastic.NewClient(elastic.Config{
		Host:            config.Elasticsearch.Host,
		Username:        config.Elasticsearch.Username,
		Password:        config.Elasticsearch.Password,
		Timeout:         config.Elasticsearch.Timeout(),
		RetryOnConflict: config.Elasticsearch.RetryOnConflict,
	}, logger)

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("search cluster not reachable: %w", err)
	}

	connectorIndex := connectors.NewConnectorIndex(client, logger)
	connectorIndex.WithPageSize(config.Elasticsearch.PageSize)
	jobIndex := connectors.NewSyncJobIndex(client, logger)
	jobIndex.WithPageSize(config.Elasticsearch.PageSize)

	coordinator := ingest.NewCoordinator(client, config.Bulk.MaxRequestsPerSec, logger)

	service := orchestrator.New(config, connectorIndex, jobIndex, coordinator, sources.Definitions(), logger).
		WithFilteringValidator(connectors.NewBasicRulesValidator(logger))

	logger.Info().Strs("sources", sources.Names()).Msg("Registered sources")
	return service.Run(ctx)
}
