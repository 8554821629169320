// Package config implements the Config & Persistence Collaborator:
// typed setters over a TOML file rooted at $CODE_HOME (or $CODEX_HOME),
// each writing atomically via tempfile + rename.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MCPServerEntry is one entry of the `[mcp_servers.<name>]` table.
type MCPServerEntry struct {
	Type    string            `mapstructure:"type" toml:"type"`
	Command string            `mapstructure:"command" toml:"command,omitempty"`
	Args    []string          `mapstructure:"args" toml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" toml:"env,omitempty"`
	URL     string            `mapstructure:"url" toml:"url,omitempty"`
}

// ProjectConfig is the per-project trust/access table keyed by absolute
// path in `[projects."<path>"]`.
type ProjectConfig struct {
	Trusted                 bool     `mapstructure:"trusted" toml:"trusted"`
	AccessMode              string   `mapstructure:"access_mode" toml:"access_mode,omitempty"`
	AllowedCommands         []string `mapstructure:"allowed_commands" toml:"allowed_commands,omitempty"`
	GithubActionlintOnPatch bool     `mapstructure:"github_actionlint_on_patch" toml:"github_actionlint_on_patch"`
}

// ValidationGroupConfig tracks which named validation groups are enabled.
type ValidationGroupConfig struct {
	Enabled map[string]bool `mapstructure:"enabled" toml:"enabled,omitempty"`
}

// Config is the full on-disk schema at $CODE_HOME/config.toml.
type Config struct {
	TUI struct {
		ThemeName string `mapstructure:"theme_name" toml:"theme_name,omitempty"`
	} `mapstructure:"tui" toml:"tui"`

	Shell struct {
		StyleProfileSkills []string `mapstructure:"style_profile_skills" toml:"style_profile_skills,omitempty"`
	} `mapstructure:"shell" toml:"shell"`

	MCPServers map[string]MCPServerEntry `mapstructure:"mcp_servers" toml:"mcp_servers,omitempty"`

	Projects map[string]ProjectConfig `mapstructure:"projects" toml:"projects,omitempty"`

	Validation ValidationGroupConfig `mapstructure:"validation" toml:"validation"`

	Agent struct {
		DefaultModels []string        `mapstructure:"default_models" toml:"default_models,omitempty"`
		MaxConcurrent int             `mapstructure:"max_concurrent" toml:"max_concurrent"`
		Disabled      map[string]bool `mapstructure:"disabled" toml:"disabled,omitempty"`
	} `mapstructure:"agent" toml:"agent"`
}

// Collaborator is a loaded Config plus the code_home directory it was
// (or will be) persisted under.
type Collaborator struct {
	CodeHome string
	cfg      Config
}

// ResolveCodeHome resolves the config directory: CODE_HOME, then
// CODEX_HOME, then a source-checkout autodetect (an ancestor directory
// containing code-rs/Cargo.toml alongside a .code/config.toml), then
// ~/.code.
func ResolveCodeHome() string {
	if v := os.Getenv("CODE_HOME"); v != "" {
		return v
	}
	if v := os.Getenv("CODEX_HOME"); v != "" {
		return v
	}
	if dir, ok := autodetectSourceCheckoutConfig(); ok {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".code")
}

func autodetectSourceCheckoutConfig() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "code-rs", "Cargo.toml")); err == nil {
			candidate := filepath.Join(dir, ".code")
			if _, err := os.Stat(filepath.Join(candidate, "config.toml")); err == nil {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load reads $codeHome/config.toml via viper, applying defaults for any
// unset keys.
func Load(codeHome string) (*Collaborator, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(codeHome)

	v.SetDefault("tui.theme_name", "default")
	v.SetDefault("agent.max_concurrent", 32)
	v.SetDefault("agent.default_models", []string{"code"})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s/config.toml: %w", codeHome, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &Collaborator{CodeHome: codeHome, cfg: cfg}, nil
}

// Snapshot returns a copy of the currently loaded config.
func (c *Collaborator) Snapshot() Config { return c.cfg }

// LoadMCPServers implements load_mcp_servers.
func (c *Collaborator) LoadMCPServers() map[string]MCPServerEntry {
	return c.cfg.MCPServers
}

// SetProjectTrusted implements set_project_trusted.
func (c *Collaborator) SetProjectTrusted(projectPath string, trusted bool) error {
	p := c.cfg.Projects[projectPath]
	p.Trusted = trusted
	return c.mutateProject(projectPath, p)
}

// SetShellStyleProfileSkills implements set_shell_style_profile_skills.
func (c *Collaborator) SetShellStyleProfileSkills(skills []string) error {
	c.cfg.Shell.StyleProfileSkills = skills
	return c.persist()
}

// SetTUIThemeName implements set_tui_theme_name.
func (c *Collaborator) SetTUIThemeName(name string) error {
	c.cfg.TUI.ThemeName = name
	return c.persist()
}

// SetProjectAccessMode implements set_project_access_mode.
func (c *Collaborator) SetProjectAccessMode(projectPath, mode string) error {
	p := c.cfg.Projects[projectPath]
	p.AccessMode = mode
	return c.mutateProject(projectPath, p)
}

// AddProjectAllowedCommand implements add_project_allowed_command.
func (c *Collaborator) AddProjectAllowedCommand(projectPath, command string) error {
	p := c.cfg.Projects[projectPath]
	for _, existing := range p.AllowedCommands {
		if existing == command {
			return nil
		}
	}
	p.AllowedCommands = append(p.AllowedCommands, command)
	return c.mutateProject(projectPath, p)
}

// SetGithubActionlintOnPatch implements set_github_actionlint_on_patch.
func (c *Collaborator) SetGithubActionlintOnPatch(projectPath string, enabled bool) error {
	p := c.cfg.Projects[projectPath]
	p.GithubActionlintOnPatch = enabled
	return c.mutateProject(projectPath, p)
}

// SetValidationGroupEnabled implements set_validation_group_enabled.
func (c *Collaborator) SetValidationGroupEnabled(group string, enabled bool) error {
	if c.cfg.Validation.Enabled == nil {
		c.cfg.Validation.Enabled = make(map[string]bool)
	}
	c.cfg.Validation.Enabled[group] = enabled
	return c.persist()
}

func (c *Collaborator) mutateProject(projectPath string, p ProjectConfig) error {
	if c.cfg.Projects == nil {
		c.cfg.Projects = make(map[string]ProjectConfig)
	}
	c.cfg.Projects[projectPath] = p
	return c.persist()
}

// persist writes c.cfg to $CodeHome/config.toml atomically: a tempfile
// in the same directory followed by os.Rename, after ensuring the
// directory exists.
func (c *Collaborator) persist() error {
	if err := os.MkdirAll(c.CodeHome, 0o755); err != nil {
		return fmt.Errorf("config: create code home %q: %w", c.CodeHome, err)
	}

	data, err := encodeTOML(c.cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	final := filepath.Join(c.CodeHome, "config.toml")
	tmp, err := os.CreateTemp(c.CodeHome, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("config: create tempfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close tempfile: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// encodeTOML renders cfg using viper's own marshaler so the persisted file
// stays compatible with the viper-based Load above.
func encodeTOML(cfg Config) ([]byte, error) {
	v := viper.New()
	v.Set("tui", cfg.TUI)
	v.Set("shell", cfg.Shell)
	v.Set("mcp_servers", cfg.MCPServers)
	v.Set("projects", cfg.Projects)
	v.Set("validation", cfg.Validation)
	v.Set("agent", cfg.Agent)

	tmp, err := os.CreateTemp("", "agentshell-config-*.toml")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	if err := v.WriteConfigAs(tmp.Name()); err != nil {
		return nil, err
	}
	return os.ReadFile(tmp.Name())
}

// DefaultModels returns the configured default model list, or nil.
func (c *Collaborator) DefaultModels() []string {
	return c.cfg.Agent.DefaultModels
}

// EnvOverridesSourceCheckout reports whether CODE_HOME/CODEX_HOME were
// both unset, i.e. ResolveCodeHome fell through to autodetection/home.
func EnvOverridesSourceCheckout() bool {
	return os.Getenv("CODE_HOME") == "" && os.Getenv("CODEX_HOME") == ""
}
