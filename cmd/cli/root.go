package main

import (
	"fmt"

	"github.com/himanishpuri/StationDNA/internal/config"
	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/alert"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	dbPath     string
	logLevel   string

	settings *config.Settings
	log      *logger.Logger
	closers  []func()
}

func rootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "stationdna",
		Short:         "StationDNA broadcast monitoring CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadSettings()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the SQLite database (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		trackCommand(a),
		stationCommand(a),
		identifyCommand(a),
		monitorCommand(a),
		detectionsCommand(a),
	)
	return root
}

func (a *app) loadSettings() error {
	settings, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		settings.DBPath = a.dbPath
	}
	if a.logLevel != "" {
		settings.LogLevel = a.logLevel
	}
	a.settings = settings
	a.log = logger.GetLogger()
	a.log.SetLevel(logger.ParseLevel(settings.LogLevel))
	return nil
}

// service builds a Service from the loaded settings. Call a.close when done.
func (a *app) service() (stationdna.Service, error) {
	s := a.settings
	opts := []stationdna.Option{
		stationdna.WithDBPath(s.DBPath),
		stationdna.WithTempDir(s.TempDir),
		stationdna.WithFFmpegPath(s.FFmpegPath),
		stationdna.WithLogger(a.log),
		stationdna.WithMonitorConfig(s.MonitorConfig()),
	}
	if cc, ok := s.CloudConfig(); ok {
		opts = append(opts, stationdna.WithCloud(cc))
	}

	sinks := alert.Multi{alert.LogSink{Log: a.log}}
	if mc, ok := s.MQTTConfig(); ok {
		mq, err := alert.DialMQTT(mc, a.log)
		if err != nil {
			a.log.Warnf("MQTT alerts disabled: %v", err)
		} else {
			a.closers = append(a.closers, mq.Close)
			sinks = append(sinks, mq)
		}
	}
	opts = append(opts, stationdna.WithAlertSink(sinks))

	svc, err := stationdna.NewService(opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initializing service: %w", err)
	}
	a.closers = append([]func(){func() {
		if err := svc.Close(); err != nil {
			a.log.Errorf("closing service: %v", err)
		}
	}}, a.closers...)
	return svc, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}
