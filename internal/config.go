package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服務配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務器配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GameConfig 遊戲規則與房間配置
type GameConfig struct {
	InstanceSize        int           `yaml:"instance_size"`
	MaxPlayersPerRoom   int           `yaml:"max_players_per_room"`
	MessageRate         float64       `yaml:"message_rate"`  // 每秒訊息數
	MessageBurst        int           `yaml:"message_burst"` // 突發上限
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
	SendBuffer          int           `yaml:"send_buffer"`
}

// WebSocketConfig 心跳與訊息大小
type WebSocketConfig struct {
	PingPeriod     time.Duration `yaml:"ping_period"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// DuelPlayers 一場對戰的玩家數
const DuelPlayers = 2

// 儲存後端
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// StoreConfig 儲存後端選擇
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// PostgresConfig PostgreSQL 連線配置
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`

	// URL 由 DATABASE_URL 環境變數覆寫，不從檔案讀取
	URL string `yaml:"-"`
}

// RedisConfig Redis 連線配置
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSConfig 事件發佈配置，URL 為空時不發佈
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Game: GameConfig{
			InstanceSize:        5,
			MaxPlayersPerRoom:   DuelPlayers,
			MessageRate:         10,
			MessageBurst:        20,
			OrphanSweepInterval: time.Minute,
			SendBuffer:          256,
		},
		WebSocket: WebSocketConfig{
			PingPeriod:     54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 4096,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "duel",
			Password: "duel",
			DBName:   "duel",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "duel:",
		},
		NATS: NATSConfig{
			SubjectPrefix: "duel",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置
//
// path 為空時只使用預設值。檔案中未出現的欄位保留預設值。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Postgres.URL = dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Game.InstanceSize < 2 {
		errs = append(errs, fmt.Errorf("game.instance_size must be at least 2, got %d", c.Game.InstanceSize))
	}
	// 對戰固定兩人：兩位玩家都準備好才出題，沒有觀戰者
	if c.Game.MaxPlayersPerRoom != DuelPlayers {
		errs = append(errs, fmt.Errorf("game.max_players_per_room must be %d, got %d", DuelPlayers, c.Game.MaxPlayersPerRoom))
	}
	if c.Game.MessageRate <= 0 || c.Game.MessageBurst <= 0 {
		errs = append(errs, errors.New("game.message_rate and game.message_burst must be positive"))
	}
	if c.Game.SendBuffer <= 0 {
		errs = append(errs, errors.New("game.send_buffer must be positive"))
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, fmt.Errorf("websocket.ping_period (%s) must be shorter than pong_wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}

	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be one of memory, postgres, redis", c.Store.Driver))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}

	return errors.Join(errs...)
}

// PostgresURL 組出 PostgreSQL 連線字串，DATABASE_URL 優先
func (c *Config) PostgresURL() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     c.Postgres.Host + ":" + strconv.Itoa(c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.Postgres.SSLMode),
	}
	return u.String()
}
