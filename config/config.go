// Package config 服务配置，按默认值、配置文件、环境变量的顺序覆盖
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 WEREWOLF_SERVER_ADDR
const EnvPrefix = "WEREWOLF"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Entry     EntryConfig     `mapstructure:"entry"`
	Game      GameConfig      `mapstructure:"game"`
	Redis     RedisConfig     `mapstructure:"redis"`
	History   HistoryConfig   `mapstructure:"history"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Debug bool   `mapstructure:"debug"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type EntryConfig struct {
	Capacity   int    `mapstructure:"capacity"`
	MinPlayers int    `mapstructure:"min_players"`
	Store      string `mapstructure:"store"` // memory | redis
}

type GameConfig struct {
	RolePool     []string      `mapstructure:"role_pool"`
	DayTimeout   time.Duration `mapstructure:"day_timeout"`
	NightTimeout time.Duration `mapstructure:"night_timeout"`
	BotFill      bool          `mapstructure:"bot_fill"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	EntryTTL time.Duration `mapstructure:"entry_ttl"`
}

type HistoryConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite | mongo | none
	DSN           string `mapstructure:"dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type WebSocketConfig struct {
	SendBuffer int `mapstructure:"send_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("entry.capacity", 10)
	v.SetDefault("entry.min_players", 4)
	v.SetDefault("entry.store", "memory")
	v.SetDefault("game.role_pool", []string{})
	v.SetDefault("game.day_timeout", 5*time.Minute)
	v.SetDefault("game.night_timeout", 2*time.Minute)
	v.SetDefault("game.bot_fill", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.entry_ttl", 24*time.Hour)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "werewolf.sqlite")
	v.SetDefault("history.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("history.mongo_database", "werewolf")
	v.SetDefault("websocket.send_buffer", 256)
}

// Load 读取配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret 不能为空"))
	}
	if c.Entry.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("entry.capacity 必须为正数: %d", c.Entry.Capacity))
	}
	if c.Entry.MinPlayers <= 0 || c.Entry.MinPlayers > c.Entry.Capacity {
		errs = append(errs, fmt.Errorf("entry.min_players 必须在 1 到 %d 之间: %d", c.Entry.Capacity, c.Entry.MinPlayers))
	}
	switch c.Entry.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("未知的 entry.store: %q", c.Entry.Store))
	}
	switch c.History.Driver {
	case "sqlite", "mongo", "none":
	default:
		errs = append(errs, fmt.Errorf("未知的 history.driver: %q", c.History.Driver))
	}
	if c.Game.DayTimeout < 0 || c.Game.NightTimeout < 0 {
		errs = append(errs, errors.New("阶段超时不能为负数"))
	}
	return errors.Join(errs...)
}
