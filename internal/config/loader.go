package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config file locations.
const (
	// GlobalConfigDir is the directory under the XDG config home.
	GlobalConfigDir = "dobi"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// ProjectConfigDir is the project-local config directory.
	ProjectConfigDir = ".dobi"
	// ProjectConfigFile is the project-local config file name.
	ProjectConfigFile = "config.yaml"
	// SettingsFile is the persisted dashboard settings file name.
	SettingsFile = "settings.yaml"
)

// Source is one config file layer.
type Source struct {
	Name     string // global, project or explicit
	Path     string
	Required bool // missing file is an error
}

// Sources lists the file layers in merge order. explicit is the --config
// value and may be empty.
func Sources(explicit string) []Source {
	var out []Source
	if home := ConfigHome(); home != "" {
		out = append(out, Source{Name: "global", Path: filepath.Join(home, GlobalConfigFile)})
	}
	out = append(out, Source{Name: "project", Path: filepath.Join(ProjectConfigDir, ProjectConfigFile)})
	if explicit != "" {
		out = append(out, Source{Name: "explicit", Path: explicit, Required: true})
	}
	return out
}

// LoadConfig builds the effective configuration. From lowest to highest
// precedence: Default(), the global file, the project file, the --config
// file, then whatever v already holds from DOBI_* variables and bound
// flags. The result is validated and records which files were read.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := registerDefaults(v, Default()); err != nil {
		return nil, fmt.Errorf("register defaults: %w", err)
	}

	var loaded []string
	for _, src := range Sources(v.GetString("config")) {
		ok, err := mergeFile(v, src)
		if err != nil {
			return nil, fmt.Errorf("%s config %s: %w", src.Name, src.Path, err)
		}
		if ok {
			loaded = append(loaded, src.Path)
		}
	}

	cfg := &Config{}
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LoadedFrom = loaded
	if cfg.Paths.Settings == "" {
		cfg.Paths.Settings = DefaultSettingsPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// registerDefaults flattens defaults into dotted keys and sets each as a
// viper default, so files, env and flags all layer over them.
func registerDefaults(v *viper.Viper, defaults *Config) error {
	tree := map[string]any{}
	if err := mapstructure.Decode(defaults, &tree); err != nil {
		return err
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// mergeFile reads src into a scratch viper and merges it into v. The file
// type follows the extension. It reports whether the file existed.
func mergeFile(v *viper.Viper, src Source) (bool, error) {
	if _, err := os.Stat(src.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !src.Required {
			return false, nil
		}
		return false, err
	}

	fv := viper.New()
	fv.SetConfigFile(src.Path)
	if filepath.Ext(src.Path) == "" {
		fv.SetConfigType("yaml")
	}
	if err := fv.ReadInConfig(); err != nil {
		return false, err
	}
	return true, v.MergeConfigMap(fv.AllSettings())
}

// ConfigHome returns ~/.config/dobi, honouring XDG_CONFIG_HOME.
// It returns "" when no home directory can be determined.
func ConfigHome() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, GlobalConfigDir)
}

// DefaultSettingsPath is where the settings blob lives when paths.settings is unset.
func DefaultSettingsPath() string {
	if home := ConfigHome(); home != "" {
		return filepath.Join(home, SettingsFile)
	}
	return filepath.Join(ProjectConfigDir, SettingsFile)
}
