package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	envPrefix = "TABGRID_"
)

// Connection: одно именованное подключение; сущность выбирает его
// ключом connection.
type Connection struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type Config struct {
	Port        string `yaml:"port" json:"port"`
	EntitiesDir string `yaml:"entitiesDir" json:"entitiesDir"`
	I18nDir     string `yaml:"i18nDir" json:"i18nDir"`
	AutoMigrate bool   `yaml:"autoMigrate" json:"autoMigrate"`

	// Загрузки полей file
	UploadsDir       string   `yaml:"uploadsDir" json:"uploadsDir"`
	UploadsURL       string   `yaml:"uploadsUrl" json:"uploadsUrl"`
	AllowedImageExts []string `yaml:"allowedImageExts" json:"allowedImageExts"`
	MaxUploadMB      int64    `yaml:"maxUploadMb" json:"maxUploadMb"`

	DefaultLocale string `yaml:"defaultLocale" json:"defaultLocale"`
	GuestLevel    string `yaml:"guestLevel" json:"guestLevel"`

	LogLevel  string `yaml:"logLevel" json:"logLevel"`   // debug|info|warn|error
	LogFormat string `yaml:"logFormat" json:"logFormat"` // text|json

	Connections map[string]Connection `yaml:"connections" json:"connections"`
}

func def() Config {
	return Config{
		Port:        "8080",
		EntitiesDir: "resources/entities",
		I18nDir:     "resources/i18n",
		AutoMigrate: false,

		UploadsDir:       "uploads",
		UploadsURL:       "/uploads",
		AllowedImageExts: []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"},
		MaxUploadMB:      10,

		DefaultLocale: "en",
		GuestLevel:    "U",

		LogLevel:  "info",
		LogFormat: "text",

		Connections: map[string]Connection{
			"default": {Driver: DriverMemory},
		},
	}
}

// loadFile (YAML или JSON (JSON) подмножество YAML). Ключи, которых нет
// в файле, сохраняют значения по умолчанию.
func loadFile(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(envPrefix + k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvInt(k string, fallback int64) int64 {
	if v, ok := os.LookupEnv(envPrefix + k); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load: значения по умолчанию → файл (если есть) → TABGRID_* → флаги.
// path: файл по умолчанию; флаг -config его переопределяет. Отсутствие
// файла по умолчанию не ошибка, явно указанного ошибка.
func Load(path string, args []string) (Config, error) {
	cfg := def()

	fs := flag.NewFlagSet("tabgrid", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", getenv("CONFIG", path), "Path to config file (YAML or JSON)")
	port := fs.String("port", "", "HTTP port")
	entities := fs.String("entities", "", "Path to entity declarations")
	i18nDir := fs.String("i18n", "", "Path to translation catalogs")
	uploads := fs.String("uploads", "", "Directory for uploaded files")
	db := fs.String("db", "", "DSN of the default connection (driver from -driver)")
	driver := fs.String("driver", "", "Driver of the default connection: memory, sqlite, pgx")
	auto := fs.String("auto-migrate", "", "Create missing tables on start (true/false)")
	logLevel := fs.String("log-level", "", "debug, info, warn, error")
	logFormat := fs.String("log-format", "", "text or json")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	explicit := *configPath != path
	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		}
	}

	// ENV overrides
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.EntitiesDir = getenv("ENTITIES_DIR", cfg.EntitiesDir)
	cfg.I18nDir = getenv("I18N_DIR", cfg.I18nDir)
	cfg.UploadsDir = getenv("UPLOADS_DIR", cfg.UploadsDir)
	cfg.UploadsURL = getenv("UPLOADS_URL", cfg.UploadsURL)
	if v := getenv("ALLOWED_IMAGE_EXTS", ""); v != "" {
		cfg.AllowedImageExts = splitList(v)
	}
	cfg.MaxUploadMB = getenvInt("MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.DefaultLocale = getenv("DEFAULT_LOCALE", cfg.DefaultLocale)
	cfg.GuestLevel = getenv("GUEST_LEVEL", cfg.GuestLevel)
	cfg.AutoMigrate = getenvBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.setDefault(getenv("DB_DRIVER", ""), getenv("DB_DSN", ""))

	// Flags overrides
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Port, *port)
	set(&cfg.EntitiesDir, *entities)
	set(&cfg.I18nDir, *i18nDir)
	set(&cfg.UploadsDir, *uploads)
	set(&cfg.LogLevel, *logLevel)
	set(&cfg.LogFormat, *logFormat)
	if *auto != "" {
		b, ok := parseBool(*auto)
		if !ok {
			return cfg, fmt.Errorf("auto-migrate: invalid boolean %q", *auto)
		}
		cfg.AutoMigrate = b
	}
	cfg.setDefault(*driver, *db)

	return cfg, cfg.Validate()
}

// setDefault правит подключение default; DSN без драйвера означает sqlite.
func (c *Config) setDefault(driver, dsn string) {
	if driver == "" && dsn == "" {
		return
	}
	if c.Connections == nil {
		c.Connections = map[string]Connection{}
	}
	conn := c.Connections["default"]
	if dsn != "" {
		conn.DSN = dsn
		if driver == "" && conn.Driver == DriverMemory {
			conn.Driver = DriverSQLite
		}
	}
	if driver != "" {
		conn.Driver = driver
	}
	c.Connections["default"] = conn
}

func (c Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("port: %q is not a number", c.Port))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("maxUploadMb: must be positive, got %d", c.MaxUploadMB))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logFormat: unknown %q", c.LogFormat))
	}
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		conn := c.Connections[name]
		switch conn.Driver {
		case DriverMemory:
		case DriverSQLite, DriverPostgres:
			if conn.DSN == "" {
				errs = append(errs, fmt.Errorf("connections.%s: dsn is required for %s", name, conn.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("connections.%s: unknown driver %q", name, conn.Driver))
		}
	}
	return errors.Join(errs...)
}
