package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// сервер (удалённое хранилище)
	Port        string `json:"port"`
	DSLDir      string `json:"dslDir"`
	CatalogsDir string `json:"catalogsDir"`
	DBURL       string `json:"dbUrl"`
	AutoMigrate bool   `json:"autoMigrate"`

	// файлы: пока только local
	BlobDriver string `json:"blobDriver"`
	FilesRoot  string `json:"filesRoot"`
	FilesURL   string `json:"filesUrl"` // база ссылок на объекты

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	// клиент (сканер)
	ServerURL        string        `json:"serverUrl"`
	User             string        `json:"user"`
	UploadTimeout    time.Duration `json:"uploadTimeout"`
	LocationInterval time.Duration `json:"locationInterval"`
	StampLocation    bool          `json:"stampLocation"`
}

func def() Config {
	return Config{
		Port:        "8080",
		DSLDir:      "dsl",
		CatalogsDir: "reference/catalogs",
		DBURL:       "",
		AutoMigrate: false,

		BlobDriver: "local",
		FilesRoot:  "uploads",
		FilesURL:   "http://localhost:8080/api/files",

		LogLevel:  "info",
		LogFormat: "text",

		ServerURL:        "http://localhost:8080",
		User:             "",
		UploadTimeout:    30 * time.Second,
		LocationInterval: 5 * time.Second,
		StampLocation:    false,
	}
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config { return def() }

func loadJSON(path string, c Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	// длительности в JSON пишем строками ("30s")
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return c, err
	}
	for k, v := range raw {
		if err := c.Set(k, fmt.Sprint(v)); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
	}
	return c, nil
}

// Load: defaults -> JSON (если файл есть) -> ENV TABLESYNC_*.
// Флаги накладываются потом через FromFlags.
func Load(jsonPath string) (Config, error) {
	cfg := def()

	if jsonPath != "" {
		if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
			c2, err := loadJSON(jsonPath, cfg)
			if err != nil {
				return cfg, err
			}
			cfg = c2
		}
	}

	for _, k := range keys {
		env := "TABLESYNC_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
			if err := cfg.Set(k, v); err != nil {
				return cfg, fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	return cfg, nil
}

// keys — имена настроек в виде флагов; JSON-ключи принимаются в том же виде или camelCase.
var keys = []string{
	"port", "dsl", "catalogs", "db", "auto-migrate",
	"blob-driver", "files-root", "files-url",
	"log-level", "log-format",
	"server", "user", "upload-timeout", "location-interval", "stamp-location",
}

func known(name string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}

// Set присваивает настройку по имени флага или JSON-ключу.
func (c *Config) Set(name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case "port":
		c.Port = value
	case "dsl", "dslDir":
		c.DSLDir = value
	case "catalogs", "catalogsDir":
		c.CatalogsDir = value
	case "db", "dbUrl":
		c.DBURL = value
	case "auto-migrate", "autoMigrate":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.AutoMigrate = b
	case "blob-driver", "blobDriver":
		c.BlobDriver = value
	case "files-root", "filesRoot":
		c.FilesRoot = value
	case "files-url", "filesUrl":
		c.FilesURL = value
	case "log-level", "logLevel":
		c.LogLevel = value
	case "log-format", "logFormat":
		c.LogFormat = value
	case "server", "serverUrl":
		c.ServerURL = value
	case "user":
		c.User = value
	case "upload-timeout", "uploadTimeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("upload-timeout: %w", err)
		}
		c.UploadTimeout = d
	case "location-interval", "locationInterval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("location-interval: %w", err)
		}
		c.LocationInterval = d
	case "stamp-location", "stampLocation":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.StampLocation = b
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// RegisterFlags объявляет флаги для всех настроек (значения по умолчанию — из def()).
func RegisterFlags(fs *pflag.FlagSet) {
	d := def()
	fs.String("config", "tablesync.json", "Path to config JSON")
	fs.String("port", d.Port, "HTTP port")
	fs.String("dsl", d.DSLDir, "Path to DSL directory")
	fs.String("catalogs", d.CatalogsDir, "Path to option catalogs directory")
	fs.String("db", d.DBURL, "Postgres URL (empty = in-memory)")
	fs.Bool("auto-migrate", d.AutoMigrate, "Create tables in Postgres on start")
	fs.String("blob-driver", d.BlobDriver, "Blob driver (local)")
	fs.String("files-root", d.FilesRoot, "Local files root")
	fs.String("files-url", d.FilesURL, "Public base URL of stored files")
	fs.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	fs.String("log-format", d.LogFormat, "Log format (text/json)")
	fs.String("server", d.ServerURL, "Remote store URL")
	fs.String("user", d.User, "User name stamped into user columns")
	fs.Duration("upload-timeout", d.UploadTimeout, "Timeout of a single file upload")
	fs.Duration("location-interval", d.LocationInterval, "Location polling interval")
	fs.Bool("stamp-location", d.StampLocation, "Add coordinates to written rows")
}

// FromFlags читает --config, потом накладывает только явно заданные флаги.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if setErr != nil || !known(f.Name) {
			return
		}
		setErr = cfg.Set(f.Name, f.Value.String())
	})
	return cfg, setErr
}
