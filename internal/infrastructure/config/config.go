// Package config loads the engine's viper-backed configuration, layered
// the same way as a CLI tool that has both a global and a project-local
// settings file: defaults, then ~/.enginecore/config.yaml, then
// ./config.yaml, then ENGINE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	HTTP      HTTPConfig       `mapstructure:"http"`
	Executor  SubprocessConfig `mapstructure:"executor"`
	VLM       SubprocessConfig `mapstructure:"vlm"`
	Engine    EngineConfig     `mapstructure:"engine"`
	RunDir    string           `mapstructure:"run_dir"`
	ToolsFile string           `mapstructure:"tools_file"`
	RunIndex  RunIndexConfig   `mapstructure:"run_index"`
	Telegram  TelegramConfig   `mapstructure:"telegram"`
	Log       LogConfig        `mapstructure:"log"`
}

// HTTPConfig is the gateway's own listen address.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SubprocessConfig describes one fixed child process (executor or VLM).
type SubprocessConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EngineConfig carries the turn-loop timeouts and the underflow-behavior
// escape hatch (resolving spec.md §9's tool-underflow Open Question).
type EngineConfig struct {
	ExecuteTimeout    time.Duration `mapstructure:"execute_timeout"`
	AnnotationTimeout time.Duration `mapstructure:"annotation_timeout"`
	VLMTimeout        time.Duration `mapstructure:"vlm_timeout"`
	StrictUnderflow   bool          `mapstructure:"strict_underflow"`
	StorySeed         string        `mapstructure:"story_seed"`
	// DefaultActions is a list of "name(args...)" calls, in the same
	// syntax toolcall.Parser understands, padded onto tool_calls_out
	// when the VLM underflows and strict_underflow is false.
	DefaultActions []string `mapstructure:"default_actions"`
}

// RunIndexConfig selects the cross-run database.
type RunIndexConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// TelegramConfig enables PauseNotifier when BotToken is set.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// LogConfig controls the zap logger's verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load layers defaults, the global config directory, a local
// ./config.yaml, and ENGINE_-prefixed env vars, in that priority order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir, err := GlobalConfigDir()
	if err != nil {
		return nil, err
	}
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	if _, statErr := os.Stat("./config.yaml"); statErr == nil {
		local := viper.New()
		local.SetConfigFile("./config.yaml")
		if err := local.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(local.AllSettings())
		}
	}

	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)

	v.SetDefault("executor.timeout", "20s")
	v.SetDefault("vlm.timeout", "30s")

	v.SetDefault("engine.execute_timeout", "20s")
	v.SetDefault("engine.annotation_timeout", "30s")
	v.SetDefault("engine.vlm_timeout", "30s")
	v.SetDefault("engine.strict_underflow", false)
	v.SetDefault("engine.story_seed", "Begin the task.")
	v.SetDefault("engine.default_actions", []string{"wait()", "wait()"})

	v.SetDefault("run_dir", "./panel_log")
	v.SetDefault("tools_file", "./allowed_tools.json")

	v.SetDefault("run_index.type", "sqlite")
	v.SetDefault("run_index.dsn", "./runindex.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// GlobalConfigDir returns ~/.enginecore, creating it if necessary — the
// seeding point for a machine-wide config.yaml. The ToolPolicy file is
// not kept here; tools_file defaults to ./allowed_tools.json.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".enginecore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create global config dir: %w", err)
	}
	return dir, nil
}
