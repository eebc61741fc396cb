package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("output_root", cfg.OutputRoot)
	v.SetDefault("log_dir", cfg.LogDir)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("scan.concurrency", cfg.Scan.Concurrency)
	v.SetDefault("scan.timeout_seconds", cfg.Scan.TimeoutSeconds)
	v.SetDefault("scan.settle_ms", cfg.Scan.SettleMillis)
	v.SetDefault("scan.user_agent", cfg.Scan.UserAgent)
	v.SetDefault("scan.window_width", cfg.Scan.WindowWidth)
	v.SetDefault("scan.window_height", cfg.Scan.WindowHeight)
	v.SetDefault("runner.runtime", cfg.Runner.Runtime)
	v.SetDefault("runner.image", cfg.Runner.Image)
	v.SetDefault("runner.binary", cfg.Runner.Binary)
	v.SetDefault("runner.packages_file", cfg.Runner.PackagesFile)
	v.SetDefault("runner.build_timeout_minutes", cfg.Runner.BuildTimeout)
	v.SetDefault("runner.pull_timeout_minutes", cfg.Runner.PullTimeout)
	v.SetDefault("runner.docker.address", cfg.Runner.Docker.Address)
	v.SetDefault("runner.containerd.address", cfg.Runner.Containerd.Address)
	v.SetDefault("runner.containerd.namespace", cfg.Runner.Containerd.Namespace)
	v.SetDefault("runner.buildkit.address", cfg.Runner.BuildKit.Address)

	// A missing config file means defaults; viper reports explicit paths as a
	// plain open error rather than ConfigFileNotFoundError.
	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("runner.runtime") {
			return Config{}, fmt.Errorf("runner.runtime is required for config_version %d", CurrentConfigVersion)
		}
		if !v.IsSet("runner.image") {
			return Config{}, fmt.Errorf("runner.image is required for config_version %d", CurrentConfigVersion)
		}
		switch v.GetString("runner.runtime") {
		case "docker":
		case "containerd":
			if !v.IsSet("runner.containerd.address") {
				return Config{}, fmt.Errorf("runner.containerd.address is required for config_version %d", CurrentConfigVersion)
			}
			if !v.IsSet("runner.containerd.namespace") {
				return Config{}, fmt.Errorf("runner.containerd.namespace is required for config_version %d", CurrentConfigVersion)
			}
		default:
			return Config{}, fmt.Errorf("unsupported runner.runtime %q", v.GetString("runner.runtime"))
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateScanConfig(cfg.Scan); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateScanConfig(cfg ScanConfig) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("scan.concurrency must be at least 1")
	}
	if cfg.TimeoutSeconds < 1 {
		return fmt.Errorf("scan.timeout_seconds must be at least 1")
	}
	if cfg.SettleMillis < 0 {
		return fmt.Errorf("scan.settle_ms must not be negative")
	}
	if cfg.WindowWidth < 1 || cfg.WindowHeight < 1 {
		return fmt.Errorf("scan.window_width and scan.window_height must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.OutputRoot = expandEnv(cfg.OutputRoot)
	cfg.LogDir = expandEnv(cfg.LogDir)
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.DataDir = expandEnv(cfg.DataDir)
	cfg.Runner.Binary = expandEnv(cfg.Runner.Binary)
	cfg.Runner.PackagesFile = expandEnv(cfg.Runner.PackagesFile)
	cfg.Runner.Docker.Address = expandEnv(cfg.Runner.Docker.Address)
	cfg.Runner.Containerd.Address = expandEnv(cfg.Runner.Containerd.Address)
	cfg.Runner.BuildKit.Address = expandEnv(cfg.Runner.BuildKit.Address)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
