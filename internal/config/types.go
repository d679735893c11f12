package config

import (
	"time"
)

type ExperimentConfig struct {
	Experiment ExperimentInfo `yaml:"experiment"`
}

type ExperimentInfo struct {
	Name       string           `yaml:"name"`
	LogLevel   string           `yaml:"log_level"`
	Repository RepositoryConfig `yaml:"repository"`
	Branches   []string         `yaml:"branches,omitempty"`
	Network    NetworkConfig    `yaml:"network"`
	Load       LoadGenConfig    `yaml:"load"`
	Timing     TimingConfig     `yaml:"timing"`
	Build      BuildConfig      `yaml:"build"`
	Launch     LaunchConfig     `yaml:"launch"`
	Data       DataConfig       `yaml:"data"`
}

type RepositoryConfig struct {
	URL     string `yaml:"url"`
	Workdir string `yaml:"workdir"`
}

// NetworkConfig holds the netem parameters applied to every container
// interface. Values are passed through to tc verbatim.
type NetworkConfig struct {
	MaxBandwidth string `yaml:"max_bandwidth"`
	MinLatency   string `yaml:"min_latency"`
	Loss         string `yaml:"loss"`
}

type LoadGenConfig struct {
	TargetURL      string `yaml:"target_url"`
	MessageLength  int    `yaml:"message_length"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TimingConfig struct {
	TotalSeconds  int `yaml:"total_seconds"`
	SpinupSeconds int `yaml:"spinup_seconds"`
}

type BuildConfig struct {
	Steps []BuildStep `yaml:"steps"`
}

// BuildStep is one foreground build command. Expect is the success marker
// that must appear in its combined output; TimeoutSeconds bounds a single
// attempt, not the number of retries.
type BuildStep struct {
	Command        string `yaml:"command"`
	Expect         string `yaml:"expect,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

type LaunchConfig struct {
	Command        string `yaml:"command"`
	ReadyMarker    string `yaml:"ready_marker"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type DataConfig struct {
	OutDir string          `yaml:"out_dir"`
	DB     *DatabaseConfig `yaml:"db,omitempty"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c *ExperimentConfig) GetTotalDuration() time.Duration {
	return time.Duration(c.Experiment.Timing.TotalSeconds) * time.Second
}

func (c *ExperimentConfig) GetSpinupDuration() time.Duration {
	return time.Duration(c.Experiment.Timing.SpinupSeconds) * time.Second
}

func (c *ExperimentConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.Experiment.Load.TimeoutSeconds) * time.Second
}

func (c *ExperimentConfig) GetLaunchTimeout() time.Duration {
	return time.Duration(c.Experiment.Launch.TimeoutSeconds) * time.Second
}

func (s BuildStep) GetTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}
