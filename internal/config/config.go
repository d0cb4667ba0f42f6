package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the main configuration for storyfs.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // "debug", "info" (default), "warn" or "error"
	Store      StoreConfig      `toml:"store"`
	Database   DatabaseConfig   `toml:"database"`
	Site       SiteConfig       `toml:"site"`
	Shadow     ShadowConfig     `toml:"shadow"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// StoreConfig locates the story root and the places deleted folders end up.
type StoreConfig struct {
	Root          string   `toml:"root"`
	TrashSegments []string `toml:"trash_segments,omitempty"`
	TrashDirs     []string `toml:"trash_dirs,omitempty"`
}

// DatabaseConfig represents configuration for the registry database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SiteConfig names the site new story folders are attached to.
type SiteConfig struct {
	Name string `toml:"name"`
	URL  string `toml:"url,omitempty"`
}

// ShadowConfig holds the location of the shared shadow snapshot.
// An empty path disables the snapshot.
type ShadowConfig struct {
	Path string `toml:"path,omitempty"`
}

// VaultConfig represents configuration for a registry snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // for S3-compatible stores such as MinIO
	S3AccessKey string `toml:"s3_access_key,omitempty"` // empty uses the default credential chain
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig selects how registry snapshots are sealed.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a Config with defaults derived from baseDir: a sqlite
// registry, a filesystem vault and age keys all below baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Root: filepath.Join(baseDir, "stories"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Site:     SiteConfig{Name: "default"},
		Shadow:   ShadowConfig{Path: filepath.Join(baseDir, "shared", "stories.toml")},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "storyfs.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "storyfs.key"),
		},
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HostID, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Database),
		validation.Field(&c.Site),
		validation.Field(&c.Vaults),
		validation.Field(&c.Encryption),
	)
}

// Validate checks the database union.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Type, validation.Required, validation.In("sqlite", "memory")),
		validation.Field(&d.DataDir, validation.When(d.Type == "sqlite", validation.Required)),
	)
}

// Validate checks the default site.
func (s SiteConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
	)
}

// Validate checks a vault union.
func (v VaultConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Type, validation.Required, validation.In("memory", "filesystem", "s3")),
		validation.Field(&v.Name, validation.Required),
		validation.Field(&v.S3Bucket, validation.When(v.Type == "s3", validation.Required)),
		validation.Field(&v.S3Region, validation.When(v.Type == "s3", validation.Required)),
		validation.Field(&v.S3SecretKey, validation.When(v.S3AccessKey != "", validation.Required)),
		validation.Field(&v.FSVaultRoot, validation.When(v.Type == "filesystem", validation.Required)),
	)
}

// Validate checks the encryption settings. Key paths are only needed for age.
func (e EncryptionConfig) Validate() error {
	age := e.Type == "" || e.Type == "age"
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.In("age", "none")),
		validation.Field(&e.PublicKeyPath, validation.When(age, validation.Required)),
		validation.Field(&e.PrivateKeyPath, validation.When(age, validation.Required)),
	)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
