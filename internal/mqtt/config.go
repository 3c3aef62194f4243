package mqtt

import "time"

type Config struct {
	BrokerURL        string        `mapstructure:"broker_url"`
	BrokerPort       int           `mapstructure:"broker_port"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	ClientID         string        `mapstructure:"client_id"`
	QoS              byte          `mapstructure:"qos"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
}

func DefaultConfig() Config {
	return Config{
		BrokerPort:       1883,
		QoS:              0,
		Timeout:          5 * time.Second,
		ReconnectBackoff: 3 * time.Second,
		RateLimit:        200, // inbound messages per second
		RateBurst:        500,
	}
}
