package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cohortd/internal/api"
	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/logging"
	"cohortd/internal/queue"
	"cohortd/internal/rules"
	"cohortd/internal/scan"
	"cohortd/internal/store"
	"cohortd/internal/stream"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	var cfgMgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfgMgr = m
	} else {
		cfgMgr = config.NewStaticManager(nil)
	}
	cfg := cfgMgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// The store may come up after us; keep retrying until the schema is in
	// place or shutdown is requested.
	for {
		if err := st.Init(ctx); err == nil {
			break
		} else {
			logger.Warn("store init failed, retrying", "err", err)
		}
		if !stream.BackoffSleep(ctx, cfg.Stream.DiscoverBackoff) {
			return
		}
	}

	set := rules.NewSet(logger, rules.FromConfig(cfg.Rules, logger)...)
	cl := classifier.New(set, st, logger)

	if cfg.Queue.Enabled {
		q := queue.NewKafka(cfg.Queue, logger)
		defer q.Close()
		go queue.NewConsumer(q, st, cl, cfg.Queue, logger).Run(ctx)
		logger.Info("queue consumer enabled", "brokers", cfg.Queue.Brokers, "topic", cfg.Queue.Topic)
	} else {
		logger.Info("queue consumer disabled")
	}

	if cfg.Stream.Enabled {
		go stream.NewConsumer(st, cl, cfg.Stream, logger).Run(ctx)
		logger.Info("stream consumer enabled")
	} else {
		logger.Info("stream consumer disabled")
	}

	if cfg.Scan.Enabled {
		go scan.NewScanner(st, cl, cfg.Scan, logger).Run(ctx)
		logger.Info("scan poller enabled")
	} else {
		logger.Info("scan poller disabled")
	}

	api.Start(ctx, cfgMgr, st, cl, logger, version)

	<-ctx.Done()
	logger.Info("shutting down")
}
