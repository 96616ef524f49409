// Command relayd runs the device relay: websocket gateway, status API,
// metrics and static file serving on one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/devicerelay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "optional .env style config file; the environment still wins")
	flag.Parse()

	var (
		conf *devicerelay.Config
		err  error
	)
	if *configFile != "" {
		conf, err = devicerelay.LoadConfigFile(*configFile)
	} else {
		conf, err = devicerelay.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := devicerelay.NewSlogServiceLogger(devicerelay.NewSlogLogger(os.Stdout, conf.LogLevel, conf.LogFormat))
	logger.Info("Starting relay", devicerelay.LogFields{"config": conf.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := devicerelay.TryNewService(conf, logger, ctx, devicerelay.ServiceDependencies{
		Hooks: devicerelay.LoggingHooks(logger),
	})
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Relay stopped", nil)
	return nil
}
