// Package config loads the orchestrator's YAML configuration, mirroring the
// shape of the teacher's internal/policy.Config/LoadConfig (defaults struct,
// single YAML unmarshal, accessor methods). Per §6, only team.drive.mode is
// re-read every watcher tick; everything else is resolved once here and
// cached by internal/policy.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RoleTemplate names the template file backing one enabled role.
// policy.New rejects an enabled role whose template name is empty; it does
// not check that the named file exists on disk.
type RoleTemplate struct {
	Role     string `yaml:"role"`
	Template string `yaml:"template"`
}

// DriveConfig is the team.drive block.
type DriveConfig struct {
	Mode             string `yaml:"mode"` // "running" or "standby"; hot-reloaded every tick
	CooldownSeconds  int    `yaml:"cooldown_seconds"`
	UnitRole         string `yaml:"unit_role"` // default role is "admin" when subtree drive is desired
	DriverRole       string `yaml:"driver_role"`
	BackupRole       string `yaml:"backup_role"`
	ReplyCooldownSec int    `yaml:"reply_cooldown_seconds"`
}

// WakeConfig controls the per-worker wake scheduler and stale-inbox alerter.
type WakeConfig struct {
	ActivityWindowSeconds      int `yaml:"activity_window_seconds"`
	ActiveGracePeriodSeconds   int `yaml:"active_grace_period_seconds"`
	IdleWakeDelaySeconds       int `yaml:"idle_wake_delay_seconds"`
	WorkingStaleThresholdSec   int `yaml:"working_stale_threshold_seconds"`
	StaleAlertCooldownSeconds  int `yaml:"stale_alert_cooldown_seconds"`
	TailWindowLines            int `yaml:"tail_window_lines"`
	CaptureLines               int `yaml:"capture_lines"`
}

// AutoEnterConfig controls recovery-keystroke injection for known stuck UI
// prompts (§4.F point 3).
type AutoEnterConfig struct {
	Patterns       []string `yaml:"patterns"`
	CooldownSeconds int     `yaml:"cooldown_seconds"` // 0 disables rate-limiting
}

// TeamConfig is the `team:` top-level block: policy inputs from §4.C.
type TeamConfig struct {
	RootRole               string            `yaml:"root_role"`
	EnabledRoles            []RoleTemplate    `yaml:"enabled_roles"`
	CanHire                 map[string][]string `yaml:"can_hire"`
	BroadcastAllowedRoles   []string          `yaml:"broadcast_allowed_roles"`
	BroadcastExcludeRoles   []string          `yaml:"broadcast_exclude_roles"`
	CommAllowParentChild    bool              `yaml:"comm_allow_parent_child"`
	CommRequireHandoff      bool              `yaml:"comm_require_handoff"`
	CommHandoffCreators     []string          `yaml:"comm_handoff_creators"`
	CommDirectAllow         map[string][]string `yaml:"comm_direct_allow"`
	CommDirectAllowPairs    [][2]string       `yaml:"comm_direct_allow_pairs"`
	Drive                   DriveConfig       `yaml:"drive"`
}

// Config is the root configuration document.
type Config struct {
	TeamDir            string           `yaml:"team_dir"`
	MaxUnreadPerThread int              `yaml:"max_unread_per_thread"`
	WatchIntervalSeconds int            `yaml:"watch_interval_seconds"`
	SubprocessTimeoutSeconds int        `yaml:"subprocess_timeout_seconds"`
	Team               TeamConfig       `yaml:"team"`
	Wake               WakeConfig       `yaml:"wake"`
	AutoEnter          AutoEnterConfig  `yaml:"auto_enter"`
	SearchDBPath       string           `yaml:"search_db_path"`
}

// Default returns sensible defaults, mirroring policy.DefaultConfig's
// approach of always producing a usable, non-nil configuration.
func Default() *Config {
	return &Config{
		TeamDir:                  defaultTeamDir(),
		MaxUnreadPerThread:       5,
		WatchIntervalSeconds:     5,
		SubprocessTimeoutSeconds: 10,
		Team: TeamConfig{
			RootRole: "coord",
			EnabledRoles: []RoleTemplate{
				{Role: "coord", Template: "coord.md"},
				{Role: "admin", Template: "admin.md"},
				{Role: "dev", Template: "dev.md"},
			},
			CanHire: map[string][]string{
				"coord": {"admin"},
				"admin": {"dev"},
			},
			BroadcastAllowedRoles: []string{"coord", "admin"},
			CommAllowParentChild:  true,
			CommRequireHandoff:    true,
			CommHandoffCreators:   []string{"coord", "admin"},
			Drive: DriveConfig{
				Mode:             "running",
				CooldownSeconds:  300,
				UnitRole:         "admin",
				DriverRole:       "admin",
				BackupRole:       "coord",
				ReplyCooldownSec: 120,
			},
		},
		Wake: WakeConfig{
			ActivityWindowSeconds:     60,
			ActiveGracePeriodSeconds:  90,
			IdleWakeDelaySeconds:      30,
			WorkingStaleThresholdSec:  600,
			StaleAlertCooldownSeconds: 600,
			TailWindowLines:           40,
			CaptureLines:              600,
		},
		AutoEnter: AutoEnterConfig{
			CooldownSeconds: 30,
		},
	}
}

func defaultTeamDir() string {
	if d := os.Getenv("ATWF_TEAM_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".atwf", "share")
}

// Load reads a YAML (or JSON, a subset of YAML) config file and layers it
// over Default(). A missing path is not an error: callers get defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.TeamDir == "" {
		cfg.TeamDir = defaultTeamDir()
	}
	return cfg, nil
}

// ReloadDriveMode re-reads only team.drive.mode from path, per the hot-reload
// rule in §4.H/§9. Any other parse error is swallowed: a malformed config
// during a hot reload must not crash a running watcher.
func ReloadDriveMode(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	var partial struct {
		Team struct {
			Drive struct {
				Mode string `yaml:"mode"`
			} `yaml:"drive"`
		} `yaml:"team"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fallback
	}
	if partial.Team.Drive.Mode == "" {
		return fallback
	}
	return partial.Team.Drive.Mode
}
