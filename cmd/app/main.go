package main

import (
	"context"
	"flag"
	"log"
	"os"

	"TradePipe/internal/di"
	"TradePipe/pkg/config"

	"github.com/grafana/pyroscope-go"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s strategy=%s engines=%d", cfg.Environment, cfg.Strategy.Name, len(cfg.Engines))

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags: map[string]string{
				"env": cfg.Environment,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM or the pipeline ends
	runErr := app.Run(context.Background())
	cleanup()
	if runErr != nil {
		log.Printf("app error: %v", runErr)
		os.Exit(1)
	}
}
