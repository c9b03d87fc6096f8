// Package settings persists the dashboard's connection settings: the camera
// stream URL, the robot controller address and the backend address. They are
// stored as one blob under the "robotics-settings" key of a YAML file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Key is the top-level key holding the settings blob.
const Key = "robotics-settings"

// Defaults used when nothing has been saved.
const (
	DefaultStreamURL  = "http://192.168.1.100:8080/?action=stream"
	DefaultPiIP       = "10.40.0.1"
	DefaultBackendURL = "192.168.1.50"
)

// Settings is the persisted blob.
type Settings struct {
	StreamURL  string `mapstructure:"streamUrl" yaml:"streamUrl"`
	PiIP       string `mapstructure:"piIp" yaml:"piIp"`
	BackendURL string `mapstructure:"backendUrl" yaml:"backendUrl"`
}

// Default returns the settings used before the user saves any.
func Default() Settings {
	return Settings{
		StreamURL:  DefaultStreamURL,
		PiIP:       DefaultPiIP,
		BackendURL: DefaultBackendURL,
	}
}

// withDefaults fills empty fields from Default.
func (s Settings) withDefaults() Settings {
	d := Default()
	if strings.TrimSpace(s.StreamURL) == "" {
		s.StreamURL = d.StreamURL
	}
	if strings.TrimSpace(s.PiIP) == "" {
		s.PiIP = d.PiIP
	}
	if strings.TrimSpace(s.BackendURL) == "" {
		s.BackendURL = d.BackendURL
	}
	return s
}

// Fields lists the names accepted by Set, as they appear in the file.
var Fields = []string{"streamUrl", "piIp", "backendUrl"}

// Set changes one field by its file name (case-insensitive).
func (s *Settings) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(field) {
	case "streamurl", "stream_url", "stream":
		s.StreamURL = value
	case "piip", "pi_ip", "pi":
		s.PiIP = value
	case "backendurl", "backend_url", "backend":
		s.BackendURL = value
	default:
		return fmt.Errorf("unknown setting %q (want one of %s)", field, strings.Join(Fields, ", "))
	}
	return nil
}

// Store loads and saves Settings at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by the YAML file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved settings. A missing file or key yields defaults;
// a malformed file is an error.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return Default(), err
	}
	if !v.IsSet(Key) {
		return Default(), nil
	}

	var out Settings
	if err := decode(v.Get(Key), &out); err != nil {
		return Default(), fmt.Errorf("decode %s: %w", Key, err)
	}
	return out.withDefaults(), nil
}

// Save writes the settings, keeping any other keys already in the file.
func (s *Store) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return err
	}
	v.Set(Key, map[string]interface{}{
		"streamUrl":  settings.StreamURL,
		"piIp":       settings.PiIP,
		"backendUrl": settings.BackendURL,
	})

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Update loads, applies fn and saves.
func (s *Store) Update(fn func(*Settings) error) (Settings, error) {
	cur, err := s.Load()
	if err != nil {
		return cur, err
	}
	if err := fn(&cur); err != nil {
		return cur, err
	}
	return cur, s.Save(cur)
}

func (s *Store) read() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := v.ReadConfig(f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return v, nil
}

// decode maps the blob onto Settings. viper lowercases every key it reads or
// writes, so field names are matched case-insensitively.
func decode(raw interface{}, out *Settings) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
