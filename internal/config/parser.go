package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"netem-bench/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxBandwidth   = "500mbit"
	defaultMinLatency     = "10ms"
	defaultLoss           = "0.1%"
	defaultMessageLength  = 500
	defaultRequestTimeout = 9
	defaultTotalSeconds   = 30
	defaultSpinupSeconds  = 15
	defaultLaunchTimeout  = 360
	defaultBuildTimeout   = 20
	defaultOutDir         = "results"
	defaultWorkdir        = "git_clone"
)

func LoadConfig(filepath string) (*ExperimentConfig, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var config ExperimentConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *ExperimentConfig) {
	exp := &config.Experiment

	if exp.Network.MaxBandwidth == "" {
		exp.Network.MaxBandwidth = defaultMaxBandwidth
	}
	if exp.Network.MinLatency == "" {
		exp.Network.MinLatency = defaultMinLatency
	}
	if exp.Network.Loss == "" {
		exp.Network.Loss = defaultLoss
	}
	if exp.Load.MessageLength == 0 {
		exp.Load.MessageLength = defaultMessageLength
	}
	if exp.Load.TimeoutSeconds == 0 {
		exp.Load.TimeoutSeconds = defaultRequestTimeout
	}
	if exp.Timing.TotalSeconds == 0 {
		exp.Timing.TotalSeconds = defaultTotalSeconds
	}
	if exp.Timing.SpinupSeconds == 0 {
		exp.Timing.SpinupSeconds = defaultSpinupSeconds
	}
	if exp.Launch.TimeoutSeconds == 0 {
		exp.Launch.TimeoutSeconds = defaultLaunchTimeout
	}
	if exp.Data.OutDir == "" {
		exp.Data.OutDir = defaultOutDir
	}
	if exp.Repository.Workdir == "" {
		exp.Repository.Workdir = defaultWorkdir
	}

	for i := range exp.Build.Steps {
		if exp.Build.Steps[i].TimeoutSeconds == 0 {
			exp.Build.Steps[i].TimeoutSeconds = defaultBuildTimeout
		}
	}
}

func validateConfig(config *ExperimentConfig) error {
	exp := &config.Experiment

	if exp.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if exp.Repository.URL == "" {
		return fmt.Errorf("repository url is required")
	}
	if exp.Load.TargetURL == "" {
		return fmt.Errorf("load target_url is required")
	}
	if exp.Load.MessageLength < 1 {
		return fmt.Errorf("load message_length must be positive, got %d", exp.Load.MessageLength)
	}
	if exp.Launch.Command == "" {
		return fmt.Errorf("launch command is required")
	}
	if exp.Launch.ReadyMarker == "" {
		return fmt.Errorf("launch ready_marker is required")
	}
	if exp.Timing.TotalSeconds <= exp.Timing.SpinupSeconds {
		return fmt.Errorf("timing total_seconds (%d) must exceed spinup_seconds (%d)",
			exp.Timing.TotalSeconds, exp.Timing.SpinupSeconds)
	}
	for _, step := range exp.Build.Steps {
		if step.Command == "" {
			return fmt.Errorf("build step with empty command")
		}
	}
	if exp.Data.DB != nil {
		db := exp.Data.DB
		if db.Host == "" || db.Token == "" || db.Org == "" || db.Bucket == "" {
			return fmt.Errorf("data db requires host, token, org and bucket")
		}
	}

	return nil
}
