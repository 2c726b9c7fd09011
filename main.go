package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/panicwrap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgulick48/hab-cloud-bridge/internal/bridge"
	"github.com/jgulick48/hab-cloud-bridge/internal/lynkco"
	"github.com/jgulick48/hab-cloud-bridge/internal/metrics"
	"github.com/jgulick48/hab-cloud-bridge/internal/models"
)

var (
	configFile string
	debug      bool
	promptMFA  bool
)

var rootCmd = &cobra.Command{
	Use:           "hab-cloud-bridge",
	Short:         "Poll vendor clouds and publish their devices as openHAB things",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured bridge until interrupted",
	RunE:  runBridge,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config.json", "JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable development logging")
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().BoolVar(&promptMFA, "prompt-mfa", false, "ask for the Lynk & Co verification code on stdin")
	}
	rootCmd.AddCommand(runCmd, lynkcoCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func loadRuntime(logger *zap.Logger) (*bridge.Runtime, error) {
	config, err := models.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return bridge.New(config, bridge.Options{Logger: logger})
}

func runBridge(cmd *cobra.Command, _ []string) error {
	exitStatus, err := panicwrap.BasicWrap(func(output string) {
		logger := newLogger(false)
		logger.Error("The bridge panicked", zap.String("output", output))
		_ = logger.Sync()
	})
	if err != nil {
		return errors.Wrap(err, "unable to start panic handler")
	}
	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	config, err := models.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger := newLogger(debug || config.Debug)
	defer func() { _ = logger.Sync() }()
	if err := metrics.Setup(config.StatsServer, logger); err != nil {
		logger.Warn("Stats disabled", zap.Error(err))
	}
	defer metrics.Close()

	opts := bridge.Options{Logger: logger}
	if promptMFA {
		opts.MFA = lynkco.MFAFunc(readMFACode)
	}
	runtime, err := bridge.New(config, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go refreshOnHangup(ctx, runtime, logger)
	logger.Info("Starting bridge", zap.Int("things", len(runtime.Things())))
	return runtime.Run(ctx)
}

func refreshOnHangup(ctx context.Context, runtime *bridge.Runtime, logger *zap.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			logger.Info("Refreshing all things")
			runtime.Refresh(ctx)
		}
	}
}

func readMFACode(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Enter the Lynk & Co verification code: ")
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errs:
		return "", errors.Wrap(err, "reading verification code")
	case line := <-lines:
		return line, nil
	}
}
