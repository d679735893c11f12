package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"netem-bench/internal/config"
	"netem-bench/internal/database"
	"netem-bench/internal/experiment"
	"netem-bench/internal/logging"
	"netem-bench/internal/results"
	"netem-bench/internal/workspace"

	"github.com/docker/docker/client"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func main() {
	// Initialize logging
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var branches []string
	var skipExisting bool
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "netem-bench",
		Short: "Network-shaped experiment runner",
		Long:  "A configurable tool for measuring container resource usage and request latency of a docker-compose system under emulated network conditions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment for one or more branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(configFile, branches, skipExisting)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an experiment configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to experiment configuration file")
	runCmd.Flags().StringSliceVar(&branches, "branches", nil, "Branches to analyze (default: branches from config, or all remote branches)")
	runCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip branches that already have a result file")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to experiment configuration file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

func runExperiment(configFile string, branchFlag []string, skipExisting bool) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}
	exp := cfg.Experiment

	// Set log level from configuration
	if exp.LogLevel != "" {
		if err := logging.SetLogLevel(exp.LogLevel); err != nil {
			logger.WithField("log_level", exp.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}

	// Initialize Docker client
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.WithError(err).Error("Failed to create Docker client")
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer dockerClient.Close()

	// Clone the repository under test into a fresh working directory
	repo, err := workspace.Clone(exp.Repository.URL, exp.Repository.Workdir)
	if err != nil {
		logger.WithError(err).Error("Failed to clone repository")
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	branches, err := resolveBranches(repo, exp.Branches, branchFlag)
	if err != nil {
		return err
	}

	store := results.NewStore(results.DirFor(
		exp.Data.OutDir,
		exp.Network.MaxBandwidth, exp.Network.MinLatency, exp.Network.Loss,
		exp.Timing.SpinupSeconds, exp.Timing.TotalSeconds,
	))

	// Initialize database client if export is configured
	var dbClient *database.InfluxDBClient
	if exp.Data.DB != nil {
		dbClient, err = database.NewInfluxDBClient(*exp.Data.DB)
		if err != nil {
			logger.WithError(err).Error("Failed to create database client")
			return fmt.Errorf("failed to create database client: %w", err)
		}
		defer dbClient.Close()
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"name":     exp.Name,
		"branches": branches,
		"out_dir":  store.Dir(),
	}).Info("Starting experiment")

	runner := experiment.NewRunner(cfg, dockerClient, repo)

	var failed []string
	for _, branch := range branches {
		if skipExisting && store.Exists(branch) {
			logger.WithField("branch", branch).Info("Result exists, skipping branch")
			continue
		}

		startTime := time.Now()
		result, err := runner.Run(ctx, branch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.WithField("branch", branch).WithError(err).Error("Branch run failed")
			failed = append(failed, branch)
			continue
		}

		path, err := store.Write(branch, result)
		if err != nil {
			logger.WithField("branch", branch).WithError(err).Error("Failed to write result")
			failed = append(failed, branch)
			continue
		}
		logger.WithFields(logrus.Fields{
			"branch": branch,
			"path":   path,
		}).Info("Result written")

		summary := results.Summarize(result.ClientPerf, cfg.GetRequestTimeout())
		logger.WithFields(summary.Fields()).Info("Client latency summary")

		if dbClient != nil {
			if err := dbClient.WriteRun(exp.Name, branch, result, startTime, time.Now()); err != nil {
				logger.WithField("branch", branch).WithError(err).Warn("Failed to export run to database")
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d branches failed: %v", len(failed), len(branches), failed)
	}
	logger.Info("Experiment completed successfully")
	return nil
}

// resolveBranches decides which branches to analyze: the --branches flag
// wins over the config list; with neither set, every remote branch of the
// repository is analyzed. Explicitly requested branches must exist.
func resolveBranches(repo *workspace.Repo, fromConfig, fromFlag []string) ([]string, error) {
	available, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	requested := fromFlag
	if len(requested) == 0 {
		requested = fromConfig
	}
	if len(requested) == 0 {
		return available, nil
	}

	known := make(map[string]bool, len(available))
	for _, b := range available {
		known[b] = true
	}
	for _, b := range requested {
		if !known[b] {
			return nil, fmt.Errorf("branch %q not found in repository (available: %v)", b, available)
		}
	}
	return requested, nil
}
