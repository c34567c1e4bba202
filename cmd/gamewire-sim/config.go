package main

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
)

// Config holds all simulator configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr string   `json:"listen_addr"`
	LogLevel   string   `json:"log_level"`
	RecordPath string   `json:"record_path"` // empty disables transcript recording
	ScriptPath string   `json:"script_path"` // empty disables scripted replies
	Watch      []string `json:"watch"`       // jq filters applied to inbound commands
}

func defaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:8000",
		LogLevel:   "info",
	}
}

func gamewireDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gamewire"
	}
	return filepath.Join(home, ".gamewire")
}

func settingsPath() string {
	return filepath.Join(gamewireDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("GAMEWIRE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GAMEWIRE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GAMEWIRE_RECORD_PATH"); v != "" {
		cfg.RecordPath = v
	}
	if v := os.Getenv("GAMEWIRE_SCRIPT_PATH"); v != "" {
		cfg.ScriptPath = v
	}

	// Layer 4: flags override everything.
	addr := flag.String("addr", cfg.ListenAddr, "listen address for the game connection")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	record := flag.String("record", cfg.RecordPath, "record the session transcript to this libSQL database file")
	script := flag.String("script", cfg.ScriptPath, "JSON file of scripted reaction rules")
	var watch stringList
	flag.Var(&watch, "watch", "jq filter rendered against every inbound command (repeatable)")
	flag.Parse()

	cfg.ListenAddr = *addr
	cfg.LogLevel = *logLevel
	cfg.RecordPath = *record
	cfg.ScriptPath = *script
	if len(watch) > 0 {
		cfg.Watch = append(cfg.Watch, watch...)
	}

	return cfg
}

type stringList []string

func (l *stringList) String() string { return "" }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
