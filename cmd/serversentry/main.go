// serversentry is the CLI front end for the ServerSentry monitoring
// agent: a single Go binary that loads a YAML configuration, wires an
// Agent, and either runs it continuously, validates a configuration
// file, or performs a one-shot check and exits with the worst observed
// status code. Grounded on the teacher's cmd/melisai/main.go (cobra root
// command with subcommands, flags bound to local vars, RunE returning
// errors for cobra to report) adapted from a one-shot "collect and print
// a report" CLI to a long-running monitoring daemon plus operator
// subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/serversentry/agent/internal/agent"
	"github.com/serversentry/agent/internal/config"
	"github.com/serversentry/agent/internal/inspect"
)

var version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "serversentry",
		Short:   "Host system monitoring agent",
		Long:    "serversentry samples host metrics, detects anomalies, evaluates composite rules, and delivers notifications.",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/serversentry/serversentry.yaml", "Path to the main configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without starting the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(configPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Sample every enabled plugin once and exit with the worst status code",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runCheck(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(code)
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run the agent and expose read-only MCP introspection tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(configPath)
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd, checkCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(agent.ExitUnknownOrError)
	}
}

func runAgent(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	a, err := agent.New(cfg, configPath)
	if err != nil {
		return fmt.Errorf("agent init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if err := a.Reload(); err != nil {
						a.Logger.Error("reload failed", "error", err.Error())
					}
					continue
				}
				a.Logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer signal.Stop(sigCh)

	a.Run(ctx)
	return nil
}

func runValidate(configPath string) error {
	_, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(agent.ExitConfigError)
	}
	fmt.Println("configuration is valid")
	return nil
}

// runInspect runs the agent's scheduler in the background and serves the
// read-only MCP introspection tools over stdio until the client closes
// the connection or the process receives a termination signal.
func runInspect(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	a, err := agent.New(cfg, configPath)
	if err != nil {
		return fmt.Errorf("agent init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	go a.Run(ctx)

	server := inspect.NewServer(a, version)
	return server.Start(ctx)
}

// runCheck loads config, samples every enabled plugin exactly once,
// evaluates thresholds, and returns the worst status's exit code (spec §6).
func runCheck(configPath string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return agent.ExitConfigError, fmt.Errorf("config error: %w", err)
	}

	a, err := agent.New(cfg, configPath)
	if err != nil {
		return agent.ExitUnknownOrError, fmt.Errorf("agent init: %w", err)
	}

	timeout := time.Duration(cfg.System.CheckTimeout) * time.Second
	statuses := a.CheckOnce(context.Background(), timeout)
	return agent.WorstStatusExitCode(statuses), nil
}
