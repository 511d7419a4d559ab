// Command server runs the model gateway: an HTTP service that exposes
// OpenAI-, Claude-, and Gemini-style endpoints in front of pooled
// provider credentials, with retry, translation, rate limiting, and
// usage accounting.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/api"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/requestlog"
	"github.com/modelgate/modelgate/internal/runtime/executor"
	_ "github.com/modelgate/modelgate/internal/translator"
	"github.com/modelgate/modelgate/internal/usage"
	"github.com/modelgate/modelgate/internal/util"
	"github.com/modelgate/modelgate/internal/watcher"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, errWd := os.Getwd()
		if errWd != nil {
			log.Fatalf("failed to get working directory: %v", errWd)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}

	cfg, errLoad := config.LoadConfig(configPath)
	if errLoad != nil {
		log.Fatalf("failed to load config: %v", errLoad)
	}

	util.SetLogLevel(cfg.Debug)
	if errOutput := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); errOutput != nil {
		log.Fatalf("failed to configure log output: %v", errOutput)
	}

	store := config.NewStore(cfg)

	router := credential.NewRouter(cfg.Routing.Strategy)
	router.UpdateFromConfig(cfg)

	executors := executor.NewRegistry(executor.Settings{
		GlobalProxy:        cfg.ProxyURL,
		ConnectTimeoutSecs: cfg.ConnectTimeout,
		RequestTimeoutSecs: cfg.RequestTimeout,
	})

	gatewayMetrics := metrics.New()
	costCalc := cost.NewCalculator(cfg.ModelPrices)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	usageMgr := usage.NewManager(256)
	usageMgr.Start(ctx)
	usageMgr.Register(metrics.NewUsagePlugin(gatewayMetrics))
	usageMgr.Register(usage.NewLoggerPlugin())

	limiter := ratelimit.New(cfg.RateLimit)
	requestLogs := requestlog.NewStore(cfg.RequestLogCapacity)

	dispatcher := dispatch.New(store, router, executors, gatewayMetrics, costCalc, usageMgr)
	server := api.NewServer(store, dispatcher, router, gatewayMetrics, requestLogs, limiter)

	// applyConfig rebuilds the components that track config state. The
	// watcher invokes it before swapping the new config into the store;
	// the SIGHUP path reuses it for manual reloads.
	applyConfig := func(newCfg *config.Config) {
		router.UpdateFromConfig(newCfg)
		limiter.UpdateConfig(newCfg.RateLimit)
		costCalc.UpdatePrices(newCfg.ModelPrices)
		log.Infof("config applied: %d claude keys, %d openai keys, %d gemini keys, %d compat providers",
			len(newCfg.ClaudeKeys), len(newCfg.OpenAIKeys), len(newCfg.GeminiKeys), len(newCfg.OpenAICompat))
	}

	configWatcher, errWatcher := watcher.NewWatcher(configPath, store, applyConfig)
	if errWatcher != nil {
		log.Fatalf("failed to create config watcher: %v", errWatcher)
	}
	if errStart := configWatcher.Start(ctx); errStart != nil {
		log.Fatalf("failed to start config watcher: %v", errStart)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	reloadFromDisk := func() {
		newCfg, errReload := config.LoadConfig(configPath)
		if errReload != nil {
			log.Errorf("failed to reload config: %v", errReload)
			return
		}
		util.SetLogLevel(newCfg.Debug)
		applyConfig(newCfg)
		store.Swap(newCfg)
	}

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case errServe := <-serverErr:
			if errServe != nil {
				log.Fatalf("API server failed: %v", errServe)
			}
			return
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Infof("received SIGHUP, reloading configuration")
				reloadFromDisk()
				continue
			}

			log.Infof("received %s, shutting down", sig)
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
			if errStop := server.Stop(shutdownCtx); errStop != nil {
				log.Errorf("error stopping API server: %v", errStop)
			}
			cancelShutdown()

			if errStopWatcher := configWatcher.Stop(); errStopWatcher != nil {
				log.Debugf("error stopping config watcher: %v", errStopWatcher)
			}
			usageMgr.Stop()
			return
		}
	}
}
