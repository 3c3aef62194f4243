package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/roomsense.db")

	// Plugin defaults
	v.SetDefault("plugins.mqtt.broker_url", "localhost")
	v.SetDefault("plugins.mqtt.broker_port", 1883)
	v.SetDefault("plugins.mqtt.username", "")
	v.SetDefault("plugins.mqtt.password", "")
	v.SetDefault("plugins.mqtt.qos", 0)
	v.SetDefault("plugins.mqtt.timeout", "5s")
	v.SetDefault("plugins.mqtt.reconnect_backoff", "3s")
	v.SetDefault("plugins.mqtt.rate_limit", 200)
	v.SetDefault("plugins.mqtt.rate_burst", 500)
	v.SetDefault("plugins.heartbeat.period", "500ms")
	v.SetDefault("plugins.heartbeat.turn_off_after", "60s")
	v.SetDefault("plugins.heartbeat.long_delay_after", "30s")
	v.SetDefault("plugins.heartbeat.silent_penalty", 0.0)
	v.SetDefault("plugins.heartbeat.kalman_q", 15.0)
	v.SetDefault("plugins.heartbeat.kalman_r", 0.08)
	v.SetDefault("plugins.learn.kalman_q", 15.0)
	v.SetDefault("plugins.learn.kalman_r", 0.08)
	v.SetDefault("plugins.predict.workers", 0) // 0 = number of CPUs
	v.SetDefault("plugins.sensor.change_state_seconds", "10s")
	v.SetDefault("plugins.sensor.change_state_beats", 3)
	v.SetDefault("plugins.ws.queue_size", 1024)
	v.SetDefault("plugins.ws.send_buffer", 256)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("roomsense")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/roomsense")
	}

	// Environment variable support: ROOMSENSE_SERVER_PORT=9090
	v.SetEnvPrefix("ROOMSENSE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
