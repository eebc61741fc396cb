package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	OutputRoot    string       `mapstructure:"output_root" yaml:"output_root"`
	LogDir        string       `mapstructure:"log_dir" yaml:"log_dir"`
	StateDir      string       `mapstructure:"state_dir" yaml:"state_dir"`
	DataDir       string       `mapstructure:"data_dir" yaml:"data_dir"`
	Scan          ScanConfig   `mapstructure:"scan" yaml:"scan"`
	Runner        RunnerConfig `mapstructure:"runner" yaml:"runner"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// DefaultUserAgent is the browser identity presented to scanned hosts.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.3"

// ScanConfig controls the capture pipeline.
type ScanConfig struct {
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	SettleMillis   int    `mapstructure:"settle_ms" yaml:"settle_ms"`
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth    int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight   int    `mapstructure:"window_height" yaml:"window_height"`
}

// RunnerConfig configures the container runtime and image build settings.
type RunnerConfig struct {
	Runtime      string           `mapstructure:"runtime" yaml:"runtime"`
	Image        string           `mapstructure:"image" yaml:"image"`
	Binary       string           `mapstructure:"binary" yaml:"binary"`
	PackagesFile string           `mapstructure:"packages_file" yaml:"packages_file"`
	BuildTimeout int              `mapstructure:"build_timeout_minutes" yaml:"build_timeout_minutes"`
	PullTimeout  int              `mapstructure:"pull_timeout_minutes" yaml:"pull_timeout_minutes"`
	Docker       DockerConfig     `mapstructure:"docker" yaml:"docker"`
	Containerd   ContainerdConfig `mapstructure:"containerd" yaml:"containerd"`
	BuildKit     BuildKitConfig   `mapstructure:"buildkit" yaml:"buildkit"`
}

// DockerConfig configures the docker runtime endpoint.
// An empty address falls back to DOCKER_HOST and the usual socket locations.
type DockerConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// ContainerdConfig configures the containerd runtime endpoint.
type ContainerdConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// BuildKitConfig configures the BuildKit endpoint.
type BuildKitConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	uid := os.Getuid()
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run", "user", fmt.Sprintf("%d", uid))
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		OutputRoot:    "results",
		LogDir:        "logs",
		StateDir:      filepath.Join(home, ".eyewitness2", "state"),
		DataDir:       "",
		Scan: ScanConfig{
			Concurrency:    4,
			TimeoutSeconds: 30,
			SettleMillis:   2000,
			UserAgent:      DefaultUserAgent,
			WindowWidth:    1280,
			WindowHeight:   800,
		},
		Runner: RunnerConfig{
			Runtime:      "docker",
			Image:        "docker.io/pktsystems/eyewitness2:latest",
			Binary:       "",
			PackagesFile: "",
			BuildTimeout: 20,
			PullTimeout:  5,
			Docker: DockerConfig{
				Address: "",
			},
			Containerd: ContainerdConfig{
				Address:   fmt.Sprintf("unix://%s", filepath.Join(runtimeDir, "containerd", "containerd.sock")),
				Namespace: "eyewitness2",
			},
			BuildKit: BuildKitConfig{
				Address: "",
			},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".eyewitness2", "config.yaml"), nil
}

// DefaultDataDir returns the standard location for signature data files.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".eyewitness2", "data"), nil
}
