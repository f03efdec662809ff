package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spance/capwatch/constants"
	"github.com/spance/capwatch/examples"
	"github.com/spance/capwatch/utils"
	"github.com/spance/capwatch/watcher/definitions"
)

// Config holds all the configuration values from command line arguments
type Config struct {
	BaseURL    string        `json:"base_url"`
	Model      string        `json:"model"`
	APIKey     string        `json:"-"`
	DeviceID   string        `json:"device_id"`
	Interval   time.Duration `json:"interval"`
	Target     string        `json:"target"`
	Lang       string        `json:"lang"`
	Background string        `json:"background"`
	Image      string        `json:"image,omitempty"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Listen     string        `json:"listen"`
	LockDir    string        `json:"lock_dir"`
	ConfigFile string        `json:"config_file,omitempty"`

	Autoplay    bool `json:"autoplay"`
	ListDevices bool `json:"list_devices"`
	CheckAPI    bool `json:"check_api"`
	Quiet       bool `json:"quiet"`
	Debug       bool `json:"debug"`
}

// loaded before flag defaults are evaluated so .env values act like real environment variables
var dotEnvErr = loadDotEnv()

func loadDotEnv() error {
	file := getEnv("CAPWATCH_ENV_FILE", ".env")
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	return godotenv.Load(file)
}

// Helper function to get environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to get environment variable as int with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func bindFlags(flags *pflag.FlagSet, cfg *Config) {
	// Model options
	flags.StringVar(&cfg.BaseURL, "base-url",
		getEnv("CAPWATCH_BASE_URL", constants.DefaultBase),
		"Model API base URL")

	flags.StringVar(&cfg.Model, "model",
		getEnv("CAPWATCH_MODEL", constants.DefaultModel),
		"Vision model name")

	flags.StringVar(&cfg.APIKey, "apikey",
		getEnv("OPENAI_API_KEY", ""),
		"API key for model authentication")

	flags.StringVar(&cfg.Target, "target",
		getEnv("CAPWATCH_TARGET", constants.DefaultTarget),
		"Item the model is asked to look for")

	flags.StringVar(&cfg.Lang, "lang",
		getEnv("CAPWATCH_LANG", constants.LangEN),
		"Language for prompt and messages (cn or en)")

	// Camera options
	flags.StringVarP(&cfg.DeviceID, "device-id", "d",
		getEnv("CAPWATCH_DEVICE_ID", ""),
		"Camera device, e.g. /dev/video0 (default: first camera)")

	flags.DurationVar(&cfg.Interval, "interval",
		getEnvDuration("CAPWATCH_INTERVAL", definitions.DefaultInterval),
		"Time between captures")

	flags.StringVar(&cfg.Background, "background",
		getEnv("CAPWATCH_BACKGROUND", "bg.png"),
		"Virtual background image (empty for a solid colour)")

	flags.StringVar(&cfg.Image, "image", getEnv("CAPWATCH_IMAGE", ""),
		"Analyze a still image instead of a camera")

	flags.IntVar(&cfg.Width, "width", getEnvInt("CAPWATCH_WIDTH", 640), "Requested capture width")
	flags.IntVar(&cfg.Height, "height", getEnvInt("CAPWATCH_HEIGHT", 480), "Requested capture height")

	flags.StringVar(&cfg.LockDir, "lock-dir", getEnv("CAPWATCH_LOCK_DIR", ""),
		"Directory for camera lock files (default: system temp dir)")

	// Other options
	flags.StringVar(&cfg.Listen, "listen", getEnv("CAPWATCH_LISTEN", ":8080"), "Web UI listen address")
	flags.BoolVar(&cfg.Autoplay, "autoplay", false, "Open the camera and start analyzing on launch")
	flags.BoolVar(&cfg.ListDevices, "list-devices", false, "List cameras and exit")
	flags.BoolVar(&cfg.CheckAPI, "check-api", false, "Check the model API and exit")
	flags.StringVar(&cfg.ConfigFile, "config", getEnv("CAPWATCH_CONFIG", ""), "TOML config file")
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Suppress verbose output")
	flags.BoolVar(&cfg.Debug, "debug", false, "Enable debug mode (default: false)")
}

// applyConfigFile copies values from a TOML file into flags the user did not set
// explicitly. Keys are flag names.
func applyConfigFile(flags *pflag.FlagSet, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	values := map[string]any{}
	if err := toml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for key, value := range values {
		flag := flags.Lookup(key)
		if flag == nil {
			return fmt.Errorf("config file %s: unknown option %q", path, key)
		}
		if flag.Changed || key == "config" {
			continue
		}
		if err := flags.Set(key, utils.AnyToString(value)); err != nil {
			return fmt.Errorf("config file %s: option %q: %w", path, key, err)
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	// Validate lang choices
	if cfg.Lang != constants.LangCN && cfg.Lang != constants.LangEN {
		return fmt.Errorf("invalid language option: %s. Must be 'cn' or 'en'", cfg.Lang)
	}

	if cfg.Interval < definitions.MinInterval || cfg.Interval > definitions.MaxInterval {
		return fmt.Errorf("invalid interval %s: must be between %s and %s",
			cfg.Interval, definitions.MinInterval, definitions.MaxInterval)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", cfg.Width, cfg.Height)
	}

	if cfg.APIKey == "" && !cfg.ListDevices {
		return fmt.Errorf("missing API key: set --apikey or OPENAI_API_KEY")
	}

	return nil
}

func preRun(cfg *Config) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if dotEnvErr != nil {
			return fmt.Errorf("load env file: %w", dotEnvErr)
		}
		if err := applyConfigFile(cmd.Flags(), cfg.ConfigFile); err != nil {
			return err
		}
		return validateConfig(cfg)
	}
}

// source returns the processor kind and the file it reads.
func (c *Config) source() (string, string) {
	if c.Image != "" {
		return examples.SourceStill, c.Image
	}
	return examples.SourceWebcam, c.Background
}

func (c *Config) modelConfig() *definitions.ModelConfig {
	return &definitions.ModelConfig{
		BaseURL:     c.BaseURL,
		ModelName:   c.Model,
		APIKey:      c.APIKey,
		Lang:        c.Lang,
		Target:      c.Target,
		MaxTokens:   getEnvInt("CAPWATCH_MAX_TOKENS", 300),
		Temperature: 0,
		Timeout:     definitions.DefaultClassifyTimeout,
	}
}

func (c *Config) watcherConfig() *definitions.WatcherConfig {
	cfg := definitions.DefaultWatcherConfig()
	cfg.Interval = c.Interval
	cfg.DeviceID = c.DeviceID
	cfg.Width = c.Width
	cfg.Height = c.Height
	return cfg
}
