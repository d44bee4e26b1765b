package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config estructura principal de configuración
type Config struct {
	ARI      ARIConfig      `yaml:"ari"`
	API      APIConfig      `yaml:"api"`
	Routing  RoutingConfig  `yaml:"routing"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ARIConfig struct {
	URL          string `yaml:"url"`
	WebsocketURL string `yaml:"websocket_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Application  string `yaml:"application"`
}

type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

// RoutingConfig controls how inbound calls are paired with agent legs.
type RoutingConfig struct {
	BridgeType      string            `yaml:"bridge_type"`
	OutboundMarker  string            `yaml:"outbound_marker"`
	DefaultEndpoint string            `yaml:"default_endpoint"` // {agent} se reemplaza por el id del agente
	HoldDelayMs     int               `yaml:"hold_delay_ms"`
	AgentEndpoints  map[string]string `yaml:"agent_endpoints"`
}

type DatabaseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load carga la configuración desde archivo YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo archivo de configuración: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parseando YAML: %w", err)
	}

	// Permitir sobrescribir con variables de entorno
	overrideWithEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with the stock values.
func Default() *Config {
	cfg := &Config{Routing: RoutingConfig{HoldDelayMs: 3000}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ARI.URL == "" {
		c.ARI.URL = "http://localhost:8088/ari"
	}
	if c.ARI.WebsocketURL == "" {
		c.ARI.WebsocketURL = "ws://localhost:8088/ari/events"
	}
	if c.ARI.Application == "" {
		c.ARI.Application = "agenteIA"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 3000
	}
	if c.Routing.BridgeType == "" {
		c.Routing.BridgeType = "mixing"
	}
	if c.Routing.OutboundMarker == "" {
		c.Routing.OutboundMarker = "outbound"
	}
	if c.Routing.DefaultEndpoint == "" {
		c.Routing.DefaultEndpoint = "SIP/{agent}"
	}
	if c.Routing.AgentEndpoints == nil {
		c.Routing.AgentEndpoints = map[string]string{}
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

// overrideWithEnv permite sobrescribir configuración con variables de entorno
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("AGENTBRIDGE_ARI_URL"); v != "" {
		cfg.ARI.URL = v
	}
	if v := os.Getenv("AGENTBRIDGE_ARI_WEBSOCKET_URL"); v != "" {
		cfg.ARI.WebsocketURL = v
	}
	if v := os.Getenv("AGENTBRIDGE_ARI_USERNAME"); v != "" {
		cfg.ARI.Username = v
	}
	if v := os.Getenv("AGENTBRIDGE_ARI_PASSWORD"); v != "" {
		cfg.ARI.Password = v
	}
	if v := os.Getenv("AGENTBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("AGENTBRIDGE_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("AGENTBRIDGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("AGENTBRIDGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("AGENTBRIDGE_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.ARI.Application == "" {
		return errors.New("ari.application es requerido")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port inválido: %d", c.API.Port)
	}
	if c.Routing.HoldDelayMs < 0 {
		return fmt.Errorf("routing.hold_delay_ms no puede ser negativo: %d", c.Routing.HoldDelayMs)
	}
	if c.Database.Enabled && c.Database.Database == "" {
		return errors.New("database.database es requerido cuando database.enabled=true")
	}
	return nil
}

// Address devuelve la dirección completa del servidor API
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// HoldDelay devuelve el retardo del HOLD como time.Duration
func (r RoutingConfig) HoldDelay() time.Duration {
	return time.Duration(r.HoldDelayMs) * time.Millisecond
}

// DSN devuelve el Data Source Name para MySQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}
