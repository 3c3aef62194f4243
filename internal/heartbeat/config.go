package heartbeat

import "time"

type Config struct {
	Period         time.Duration `mapstructure:"period"`
	TurnOffAfter   time.Duration `mapstructure:"turn_off_after"`
	LongDelayAfter time.Duration `mapstructure:"long_delay_after"`
	SilentPenalty  float64       `mapstructure:"silent_penalty"`
	KalmanQ        float64       `mapstructure:"kalman_q"`
	KalmanR        float64       `mapstructure:"kalman_r"`
}

func DefaultConfig() Config {
	return Config{
		Period:         500 * time.Millisecond,
		TurnOffAfter:   60 * time.Second,
		LongDelayAfter: 30 * time.Second,
		SilentPenalty:  0, // disabled
		KalmanQ:        DefaultKalmanQ,
		KalmanR:        DefaultKalmanR,
	}
}

// withDefaults replaces unset tunables with their defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Period <= 0 {
		c.Period = def.Period
	}
	if c.TurnOffAfter <= 0 {
		c.TurnOffAfter = def.TurnOffAfter
	}
	if c.LongDelayAfter <= 0 {
		c.LongDelayAfter = def.LongDelayAfter
	}
	if c.KalmanQ <= 0 {
		c.KalmanQ = def.KalmanQ
	}
	if c.KalmanR <= 0 {
		c.KalmanR = def.KalmanR
	}
	return c
}
