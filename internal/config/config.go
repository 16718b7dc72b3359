package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	DBPath     string
	ConfigFile string
	LogFile    string
	LogLevel   zerolog.Level

	Port                int     `json:"port"`
	PollIntervalSeconds int     `json:"poll_interval_seconds"`
	HomeAssistantURL    string  `json:"home_assistant_url"`
	TokenFile           string  `json:"token_file"`
	DripperFlowRate     float64 `json:"dripper_flow_rate"` // L/hour per dripper
	DrippersPerPlant    int     `json:"drippers_per_plant"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic string `json:"ntfy_topic"`
}

func Load() *Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.DBPath, "db-file", "data/irrigation.db", "Path to the SQLite database file")
	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&cfg.LogFile, "log-file", "/var/log/irrigation-controller.log", "Path to log file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = 8099
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 1
	}
	if cfg.HomeAssistantURL == "" {
		cfg.HomeAssistantURL = "http://homeassistant:8123"
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = "data/ha_token.txt"
	}
	if cfg.DripperFlowRate == 0 {
		cfg.DripperFlowRate = 2.0
	}
	if cfg.DrippersPerPlant == 0 {
		cfg.DrippersPerPlant = 2
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "irrigation."
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.PollIntervalSeconds < 1 {
		problems = append(problems, "poll_interval_seconds must be at least 1")
	}
	if cfg.DripperFlowRate < 0 {
		problems = append(problems, "dripper_flow_rate must be positive")
	}
	if cfg.DrippersPerPlant < 0 {
		problems = append(problems, "drippers_per_plant must be positive")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", cfg.Port))
	}
	if cfg.EnableDatadog && cfg.DDAgentAddr == "" {
		problems = append(problems, "dd_agent_addr required when enable_datadog is set")
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
}
