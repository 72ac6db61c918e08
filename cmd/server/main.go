package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/himanishpuri/StationDNA/internal/config"
	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/alert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", os.Getenv("STATIONDNA_CONFIG"), "Path to a YAML config file")
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	settings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.SetLevel(logger.ParseLevel(settings.LogLevel))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []stationdna.Option{
		stationdna.WithDBPath(settings.DBPath),
		stationdna.WithTempDir(settings.TempDir),
		stationdna.WithFFmpegPath(settings.FFmpegPath),
		stationdna.WithLogger(log),
		stationdna.WithMonitorConfig(settings.MonitorConfig()),
		stationdna.WithMetricsRegistry(reg),
	}
	if cc, ok := settings.CloudConfig(); ok {
		opts = append(opts, stationdna.WithCloud(cc))
	}

	sinks := alert.Multi{alert.LogSink{Log: log}}
	if mc, ok := settings.MQTTConfig(); ok {
		mq, err := alert.DialMQTT(mc, log)
		if err != nil {
			log.Warnf("MQTT alerts disabled: %v", err)
		} else {
			defer mq.Close()
			sinks = append(sinks, mq)
		}
	}
	opts = append(opts, stationdna.WithAlertSink(sinks))

	service, err := stationdna.NewService(opts...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(service, &ServerConfig{
		Port:           settings.Server.Port,
		DBPath:         settings.DBPath,
		TempDir:        settings.TempDir,
		AllowedOrigins: settings.Server.AllowedOrigins,
	}, log)

	serveErr := server.Start(ctx)

	log.Infof("Stopping all monitoring sessions")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.StopAll(stopCtx); err != nil {
		log.Errorf("Some sessions did not stop cleanly: %v", err)
	}
	if err := service.Close(); err != nil {
		log.Errorf("Closing service: %v", err)
	}
	if serveErr != nil {
		log.Fatalf("Server failed: %v", serveErr)
	}
}
