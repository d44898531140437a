package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GOCRED_"

type redisSettings struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type postgresSettings struct {
	DSN string `koanf:"dsn"`
}

// settings is the process configuration. Nested keys map to env vars with a double
// underscore, e.g. GOCRED_REDIS__ADDR.
type settings struct {
	Listen          string           `koanf:"listen" validate:"required"`
	LogLevel        string           `koanf:"log_level" validate:"oneof=debug info warn error"`
	Development     bool             `koanf:"development"`
	SigningKey      string           `koanf:"signing_key" validate:"required,min=32"`
	MasterKey       string           `koanf:"master_key" validate:"required,min=32"`
	Issuer          string           `koanf:"issuer" validate:"required"`
	AccessTTL       time.Duration    `koanf:"access_ttl" validate:"gt=0"`
	RefreshTTL      time.Duration    `koanf:"refresh_ttl" validate:"gt=0"`
	KeyTag          string           `koanf:"key_tag" validate:"required,alphanum,lowercase,max=16"`
	Scopes          []string         `koanf:"scopes" validate:"omitempty,dive,required"`
	CleanupInterval time.Duration    `koanf:"cleanup_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration    `koanf:"shutdown_timeout" validate:"gt=0"`
	StartupRetries  uint64           `koanf:"startup_retries"`
	Redis           redisSettings    `koanf:"redis"`
	Postgres        postgresSettings `koanf:"postgres"`
}

func defaultSettings() settings {
	return settings{
		Listen:          ":8080",
		LogLevel:        "info",
		Issuer:          "gocred",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      7 * 24 * time.Hour,
		KeyTag:          "gc",
		CleanupInterval: time.Hour,
		ShutdownTimeout: 15 * time.Second,
		StartupRetries:  5,
		Redis:           redisSettings{Addr: "localhost:6379"},
	}
}

// envKey maps GOCRED_REDIS__ADDR to redis.addr.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// loadSettings layers defaults and GOCRED_* environment variables, then validates.
func loadSettings() (settings, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultSettings(), "koanf"), nil); err != nil {
		return settings{}, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), value
		},
	}), nil); err != nil {
		return settings{}, fmt.Errorf("load environment: %w", err)
	}

	var s settings
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &s,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return settings{}, fmt.Errorf("decode settings: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if s.Redis.Addr == "" && s.Postgres.DSN == "" {
		return settings{}, errors.New("invalid settings: redis.addr or postgres.dsn is required")
	}
	if s.RefreshTTL <= s.AccessTTL {
		return settings{}, errors.New("invalid settings: refresh_ttl must exceed access_ttl")
	}
	return s, nil
}
