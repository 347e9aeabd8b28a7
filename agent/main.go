package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	defaultConfigPath  = "/home/data/config/net_manager/net.yaml"
	defaultLogFilePath = "/var/plog/edge-agent/edge-agent.log"
)

var (
	configPath, logPath, logLevel string
	hostsPath, metricsAddr        string
	svcFlag                       string
	debug, printVersion           bool
)

var rootCmd = &cobra.Command{
	Use:           "edge-agent",
	Short:         "Keeps the device's management channels to the controller and the companion process open",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if printVersion {
			fmt.Println(getAgentVersion())
			return nil
		}

		log, err := setupLogger()
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		log.Infof("Edge agent version %s starting up...", getAgentVersion())

		agent, err := New(log, Options{
			ConfigPath:  configPath,
			HostsPath:   hostsPath,
			MetricsAddr: metricsAddr,
		})
		if err != nil {
			log.Error(err)
			return err
		}

		if svcFlag != "" {
			return controlService(agent, svcFlag)
		}

		svc, err := NewAgentService(agent)
		if err != nil {
			log.Error(err)
			return err
		}
		return svc.Run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", defaultConfigPath, "Connection settings file")
	flags.StringVar(&logPath, "log-path", defaultLogFilePath, "Log file, empty to log to the console only")
	flags.StringVar(&logLevel, "log-level", "info", "One of trace, debug, info, warn, error")
	flags.BoolVar(&debug, "debug", false, "Also log to stdout at debug level")
	flags.StringVar(&hostsPath, "hosts", "", "Hosts file recording the controller's name (default /etc/hosts)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&svcFlag, "service", "", "Control the system service: install, uninstall, start, stop or restart")
	flags.BoolVar(&printVersion, "version", false, "Print the agent version")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogger() (*logger.Logger, error) {
	level, err := logger.ToLogLevel(logLevel)
	if err != nil {
		return nil, err
	}

	config := logger.Config{
		FilePath: logPath,
		Level:    level,
	}

	if debug || logPath == "" {
		config.ConsoleWriters = []io.Writer{os.Stdout}
	}
	if debug {
		config.Level, _ = logger.ToLogLevel("debug")
	}

	log, err := logger.New(&config)
	if err == nil {
		log.AddAgentVersion(getAgentVersion())
	}
	return log, err
}

// shutdownContext ends on SIGINT or SIGTERM
func shutdownContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getAgentVersion() string {
	if os.Getenv("DEV") == "true" {
		return "0.0.0-dev"
	}
	return "$AGENT_VERSION"
}
