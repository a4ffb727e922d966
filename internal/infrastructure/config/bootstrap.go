package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// BootstrapRunDir creates run_dir/run_<yyyymmdd_hhmmss>/ and returns its
// path. Called once per process start — a fresh directory per run, never
// reused, matching the on-disk layout of spec.md §6.
func BootstrapRunDir(baseDir string, now time.Time) (string, error) {
	dir := filepath.Join(baseDir, fmt.Sprintf("run_%s", now.Format("20060102_150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// BootstrapGlobal ensures ~/.enginecore exists with a starter config.yaml,
// written only if one is not already present so a user's edits are never
// clobbered.
func BootstrapGlobal(logger *zap.Logger) error {
	root, err := GlobalConfigDir()
	if err != nil {
		return err
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("global config already present", zap.String("path", path))
		return nil
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	logger.Info("wrote starter config", zap.String("path", path))
	return nil
}

const defaultConfigYAML = `# enginecore configuration — auto-generated on first run, safe to edit.

http:
  host: 127.0.0.1
  port: 8080

executor:
  command: ""   # path to the executor binary
  args: []
  timeout: 20s

vlm:
  command: ""   # path to the VLM client binary
  args: []
  timeout: 30s

engine:
  execute_timeout: 20s
  annotation_timeout: 30s
  vlm_timeout: 30s
  strict_underflow: false
  story_seed: "Begin the task."
  default_actions:
    - "wait()"
    - "wait()"

run_dir: ./panel_log
tools_file: ./allowed_tools.json

run_index:
  type: sqlite
  dsn: ./runindex.db

telegram:
  bot_token: ""
  chat_id: 0

log:
  level: info
  format: json
`
