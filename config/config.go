package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system settings
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig HTTP boundary settings
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	ApiKey        string `yaml:"api_key"`
	RequireApiKey bool   `yaml:"require_api_key"`
}

// DBConfig Database settings
type DBConfig struct {
	Type     string `yaml:"type"`
	URL      string `yaml:"url"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger settings
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WhatsappConfig session, queue and addressing settings
type WhatsappConfig struct {
	AuthDir        string        `yaml:"auth_dir"`
	CountryCode    string        `yaml:"country_code"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	SendInterval   time.Duration `yaml:"send_interval"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	ActivitySize   int           `yaml:"activity_size"`
	InboundWorkers int           `yaml:"inbound_workers"`
	DeviceName     string        `yaml:"device_name"`
}

// KeywordRule maps any of the keywords to a canned reply.
type KeywordRule struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// ResponderConfig auto-reply settings
type ResponderConfig struct {
	Mode          string        `yaml:"mode"` // "", keyword, openai
	HistoryWindow int           `yaml:"history_window"`
	Timeout       time.Duration `yaml:"timeout"`
	OpenAIKey     string        `yaml:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	OpenAIModel   string        `yaml:"openai_model"`
	SystemPrompt  string        `yaml:"system_prompt"`
	Keywords      []KeywordRule `yaml:"keywords"`
	Fallback      string        `yaml:"fallback"`
}

type AppConfig struct {
	System    SysConfig       `yaml:"system"`
	Web       WebConfig       `yaml:"web"`
	Database  DBConfig        `yaml:"database"`
	Logger    LogConfig       `yaml:"logger"`
	Whatsapp  WhatsappConfig  `yaml:"whatsapp"`
	Responder ResponderConfig `yaml:"responder"`
}

var ErrMissingDatabaseURL = errors.New("DATABASE_URL is missing in environment variables")

// GetAuthDir returns the absolute directory holding the whatsmeow credential store.
func (c *AppConfig) GetAuthDir() string {
	dir := c.Whatsapp.AuthDir
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.System.Workdir, dir)
}

// GetLogDir returns the directory for rotated log files.
func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

// ListenAddr returns host:port for the echo server.
func (c *AppConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "WaGateway",
		Location: "Asia/Jakarta",
		Workdir:  ".",
	},
	Web: WebConfig{
		Host:          "0.0.0.0",
		Port:          8001,
		RequireApiKey: true,
	},
	Database: DBConfig{
		Type:     "postgres",
		MaxConn:  20,
		IdleConn: 5,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "wagateway.log",
	},
	Whatsapp: WhatsappConfig{
		AuthDir:        "auth_info",
		CountryCode:    "62",
		ReconnectDelay: 3 * time.Second,
		SendInterval:   500 * time.Millisecond,
		SendTimeout:    20 * time.Second,
		ActivitySize:   50,
		InboundWorkers: 8,
		DeviceName:     "WA Gateway",
	},
	Responder: ResponderConfig{
		HistoryWindow: 5,
		Timeout:       30 * time.Second,
		OpenAIModel:   "gpt-4o-mini",
		SystemPrompt:  "You are a helpful customer service assistant. Answer briefly and politely.",
	},
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// an optional .env file and finally the process environment.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig

	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfile, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfile, err)
		}
	}

	// .env is optional; real environment variables always win over it.
	_ = godotenv.Load()

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setString("WAGATEWAY_WORKDIR", &cfg.System.Workdir)
	setString("TZ_LOCATION", &cfg.System.Location)
	setInt("PORT", &cfg.Web.Port)
	setString("API_KEY", &cfg.Web.ApiKey)
	if cfg.Web.ApiKey == "" {
		setString("WA_API_KEY", &cfg.Web.ApiKey)
	}
	setBool("REQUIRE_API_KEY", &cfg.Web.RequireApiKey)
	setString("DATABASE_URL", &cfg.Database.URL)
	setBool("DATABASE_DEBUG", &cfg.Database.Debug)
	setString("LOG_MODE", &cfg.Logger.Mode)
	if v, ok := lookup("LOG_FILE"); ok {
		cfg.Logger.Filename = v
		cfg.Logger.FileEnable = true
	}
	setString("WA_AUTH_DIR", &cfg.Whatsapp.AuthDir)
	setString("WA_COUNTRY_CODE", &cfg.Whatsapp.CountryCode)
	setDuration("WA_RECONNECT_DELAY", &cfg.Whatsapp.ReconnectDelay)
	setDuration("WA_SEND_INTERVAL", &cfg.Whatsapp.SendInterval)
	setDuration("WA_SEND_TIMEOUT", &cfg.Whatsapp.SendTimeout)
	setInt("WA_INBOUND_WORKERS", &cfg.Whatsapp.InboundWorkers)
	setString("RESPONDER_MODE", &cfg.Responder.Mode)
	setString("OPENAI_API_KEY", &cfg.Responder.OpenAIKey)
	setString("OPENAI_BASE_URL", &cfg.Responder.OpenAIBaseURL)
	setString("OPENAI_MODEL", &cfg.Responder.OpenAIModel)

	// An AI credential without an explicit mode enables the AI responder.
	if cfg.Responder.Mode == "" && cfg.Responder.OpenAIKey != "" {
		cfg.Responder.Mode = "openai"
	}
}

// Validate checks required fields and normalizes zero values.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrMissingDatabaseURL
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Web.Port)
	}
	if c.Web.RequireApiKey && strings.TrimSpace(c.Web.ApiKey) == "" {
		return errors.New("API_KEY is required when REQUIRE_API_KEY is enabled")
	}
	if c.Whatsapp.ReconnectDelay <= 0 {
		c.Whatsapp.ReconnectDelay = DefaultAppConfig.Whatsapp.ReconnectDelay
	}
	if c.Whatsapp.SendInterval < 0 {
		c.Whatsapp.SendInterval = DefaultAppConfig.Whatsapp.SendInterval
	}
	if c.Whatsapp.SendTimeout <= 0 {
		c.Whatsapp.SendTimeout = DefaultAppConfig.Whatsapp.SendTimeout
	}
	if c.Whatsapp.ActivitySize <= 0 {
		c.Whatsapp.ActivitySize = DefaultAppConfig.Whatsapp.ActivitySize
	}
	if c.Whatsapp.InboundWorkers <= 0 {
		c.Whatsapp.InboundWorkers = DefaultAppConfig.Whatsapp.InboundWorkers
	}
	if c.Responder.HistoryWindow <= 0 {
		c.Responder.HistoryWindow = DefaultAppConfig.Responder.HistoryWindow
	}
	switch strings.ToLower(strings.TrimSpace(c.Responder.Mode)) {
	case "", "none", "off":
		c.Responder.Mode = ""
	case "keyword", "keywords":
		c.Responder.Mode = "keyword"
	case "openai", "ai":
		c.Responder.Mode = "openai"
	default:
		return fmt.Errorf("unknown responder mode %q", c.Responder.Mode)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := lookup(key); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration strings ("3s") or plain milliseconds ("500").
func setDuration(key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	if ms, err := cast.ToInt64E(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	if d, err := cast.ToDurationE(v); err == nil {
		*dst = d
	}
}
