package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	shadowsocks "github.com/sagernet/sing-shadowpool"
	"github.com/sagernet/sing-shadowpool/config"
	"github.com/sagernet/sing-shadowpool/internal/logging"
	"github.com/sagernet/sing-shadowpool/pool"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	listMethods := flag.Bool("methods", false, "list supported methods and exit")
	flag.Parse()

	if *listMethods {
		for _, name := range shadowsocks.MethodNames() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("shadowpool starting, config ", *configPath, ", listen ", cfg.LocalAddress, ", default method ", cfg.Method, ", ", len(cfg.Users), " users")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pool.NewMetrics(registerer)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server: ", err)
			}
		}()
		logger.Info("metrics listening on ", cfg.Metrics.Address)
	}

	handler := &directHandler{logger: logger}
	registry := pool.NewRegistry()
	reconciler := pool.NewReconciler(pool.ReconcilerOptions{
		Registry: registry,
		Source:   config.FileSource{Path: *configPath},
		Factory: pool.NewServiceListenerFactory(pool.ServiceListenerOptions{
			Handler:       handler,
			PacketHandler: handler,
			Logger:        logger,
		}),
		Interval: cfg.GetReconcileInterval(),
		Logger:   logger,
		Metrics:  metrics,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		reconciler.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received ", sig, ", shutting down")

	cancel()
	<-done

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("stop metrics server: ", err)
		}
	}

	if err := reconciler.Close(); err != nil {
		logger.Error("close listeners: ", err)
	}
	logger.Info("shadowpool stopped, ", registry.Len(), " users served")
}
