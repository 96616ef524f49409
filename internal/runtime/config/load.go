package config

import (
	"github.com/spf13/viper"

	"github.com/drblury/devicerelay/internal/runtime/ids"
)

// Load reads .env (if present), then builds Config from the environment via
// Viper. Environment variables override .env. The result is not validated.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore missing file
	}

	v.AutomaticEnv()

	def := Default()
	v.SetDefault("PORT", def.Port)
	v.SetDefault("RELAY_STATIC_DIR", def.StaticDir)
	v.SetDefault("RELAY_BUS", def.PubSubSystem)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RELAY_INSTANCE_ID", "")
	v.SetDefault("RELAY_SEND_BUFFER", def.SendBuffer)
	v.SetDefault("RELAY_MAX_MESSAGE_BYTES", def.MaxMessageBytes)
	v.SetDefault("RELAY_CORS_ORIGINS", "*")
	v.SetDefault("METRICS_ENABLED", def.MetricsEnabled)
	v.SetDefault("METRICS_PORT", 0)
	v.SetDefault("LOG_LEVEL", def.LogLevel)
	v.SetDefault("LOG_FORMAT", def.LogFormat)
	v.SetDefault("SHUTDOWN_TIMEOUT", def.ShutdownTimeout)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.CORSAllowedOrigins = SplitList(v.GetString("RELAY_CORS_ORIGINS"))
	if cfg.InstanceID == "" {
		cfg.InstanceID = ids.CreateULID()
	}

	return &cfg, nil
}
