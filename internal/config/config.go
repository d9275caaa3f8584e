// Package config loads the gateway's TOML configuration, generalized
// from a single-account file into the `channels.xmpp` / per-account-map
// shape spec.md §3/§4.3 describe.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root gateway configuration. Only the sections this
// adapter reads are modeled; other TOML blocks (including other
// channels) are ignored by Load and are not written back by Save.
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Logging  LoggingConfig  `toml:"logging"`
	Storage  StorageConfig  `toml:"storage"`
	Channels ChannelsConfig `toml:"channels"`
}

// GeneralConfig contains process-wide settings.
type GeneralConfig struct {
	DataDir     string `toml:"data_dir"`
	AutoConnect bool   `toml:"auto_connect"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// StorageConfig contains dev-store settings (internal/devstore).
type StorageConfig struct {
	SaveMessages         bool `toml:"save_messages"`
	MessageRetentionDays int  `toml:"message_retention_days"`
	VacuumOnStartup      bool `toml:"vacuum_on_startup"`
}

// ChannelsConfig holds configuration for every channel adapter the host
// loads; this adapter only reads the XMPP block.
type ChannelsConfig struct {
	XMPP XMPPConfig `toml:"xmpp"`
}

// XMPPConfig is `channels.xmpp`: a base config shared by every account
// plus a per-account override map, per spec.md §4.3.
type XMPPConfig struct {
	AccountConfig
	Accounts map[string]AccountConfig `toml:"accounts"`
}

// AccountConfig is the per-account, merge-over-base shape spec.md §3
// names (`AccountConfig`).
type AccountConfig struct {
	JID          string   `toml:"jid"`
	Password     string   `toml:"password"`
	PasswordFile string   `toml:"password_file"`
	Resource     string   `toml:"resource"`
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	TLS          *bool    `toml:"tls"`

	DMPolicy       string                   `toml:"dm_policy"`
	AllowFrom      []string                 `toml:"allow_from"`
	GroupPolicy    string                   `toml:"group_policy"`
	GroupAllowFrom []string                 `toml:"group_allow_from"`
	Rooms          map[string]RoomConfig    `toml:"rooms"`
	AutoJoinRooms  []string                 `toml:"auto_join_rooms"`
	MentionPatterns []string                `toml:"mention_patterns"`
	Markdown       bool                     `toml:"markdown"`
	HistoryLimit   int                      `toml:"history_limit"`
	ResponsePrefix string                   `toml:"response_prefix"`
	BlockStreaming bool                     `toml:"block_streaming"`
}

// RoomConfig is the per-room override spec.md §3 names.
type RoomConfig struct {
	RequireMention *bool               `toml:"require_mention"`
	Enabled        *bool               `toml:"enabled"`
	AllowFrom      []string            `toml:"allow_from"`
	Tools          []string            `toml:"tools"`
	ToolsBySender  map[string][]string `toml:"tools_by_sender"`
	Skills         []string            `toml:"skills"`
	SystemPrompt   string              `toml:"system_prompt"`
}

// Paths holds the XDG-compliant paths for the process.
type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
}

// DefaultConfig returns the zero-value-safe configuration used when no
// config file is present.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{DataDir: "", AutoConnect: true},
		Logging: LoggingConfig{Level: "info", Console: false},
		Storage: StorageConfig{SaveMessages: true, MessageRetentionDays: 0},
		Channels: ChannelsConfig{
			XMPP: XMPPConfig{
				AccountConfig: AccountConfig{
					DMPolicy:    "pairing",
					GroupPolicy: "allowlist",
				},
				Accounts: map[string]AccountConfig{},
			},
		},
	}
}

// GetPaths returns XDG-compliant paths for the process.
func GetPaths() (*Paths, error) {
	configDir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return nil, err
	}
	dataDir, err := xdgDir("XDG_DATA_HOME", ".local/share")
	if err != nil {
		return nil, err
	}
	cacheDir, err := xdgDir("XDG_CACHE_HOME", ".cache")
	if err != nil {
		return nil, err
	}
	return &Paths{
		ConfigDir: filepath.Join(configDir, "xmppchanneld"),
		DataDir:   filepath.Join(dataDir, "xmppchanneld"),
		CacheDir:  filepath.Join(cacheDir, "xmppchanneld"),
	}, nil
}

func xdgDir(envVar, fallbackUnderHome string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, fallbackUnderHome), nil
}

// EnsureDirectories creates the directories this process writes to.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads config.toml, falling back to DefaultConfig when absent.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	configPath := filepath.Join(paths.ConfigDir, "config.toml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.General.DataDir = paths.DataDir
		cfg.Logging.File = filepath.Join(paths.DataDir, "xmppchanneld.log")
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.General.DataDir == "" {
		cfg.General.DataDir = paths.DataDir
	} else {
		cfg.General.DataDir = expandPath(cfg.General.DataDir)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.General.DataDir, "xmppchanneld.log")
	} else {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}
	if cfg.Channels.XMPP.Accounts == nil {
		cfg.Channels.XMPP.Accounts = map[string]AccountConfig{}
	}

	return cfg, nil
}

// Save writes cfg to config.toml.
func Save(cfg *Config) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	configPath := filepath.Join(paths.ConfigDir, "config.toml")
	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
