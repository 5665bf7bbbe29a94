package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	RevocationBackendSQLite = "sqlite"
	RevocationBackendRedis  = "redis"
)

type Config struct {
	Env         string           `yaml:"env" env-default:"local"`
	StoragePath string           `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	HTTP        HTTPConfig       `yaml:"http"`
	Token       TokenConfig      `yaml:"token"`
	Revocation  RevocationConfig `yaml:"revocation"`
	BcryptCost  int              `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	Timeout        time.Duration `yaml:"timeout" env-default:"10s"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type TokenConfig struct {
	Secret           string        `yaml:"secret" env:"TOKEN_SECRET" env-required:"true"`
	Algorithm        string        `yaml:"algorithm" env-default:"HS256"`
	TTL              time.Duration `yaml:"ttl" env-default:"10m"`
	RefreshTolerance time.Duration `yaml:"refresh_tolerance" env-default:"120s"`
	// RevokeOnRefresh revokes a token as soon as its replacement is issued.
	RevokeOnRefresh bool `yaml:"revoke_on_refresh" env-default:"false"`
}

type RevocationConfig struct {
	Backend       string        `yaml:"backend" env:"REVOCATION_BACKEND" env-default:"sqlite"`
	PurgeInterval time.Duration `yaml:"purge_interval" env-default:"1h"`
	Redis         RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	if cfg.Revocation.Backend != RevocationBackendSQLite && cfg.Revocation.Backend != RevocationBackendRedis {
		panic("unknown revocation backend: " + cfg.Revocation.Backend)
	}

	// otherwise every request would mint a replacement token
	if cfg.Token.RefreshTolerance >= cfg.Token.TTL {
		panic("token.refresh_tolerance must be shorter than token.ttl")
	}

	return &cfg
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	if flag.Lookup("config") == nil {
		flag.StringVar(&res, "config", "", "path to config file")
	}
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
