package sensor

import "time"

// Config tunes the OFF debouncer. An OFF observation is committed only after
// both thresholds are met; ON always commits immediately.
type Config struct {
	ChangeStateSeconds time.Duration `mapstructure:"change_state_seconds"`
	ChangeStateBeats   int           `mapstructure:"change_state_beats"`
}

func DefaultConfig() Config {
	return Config{
		ChangeStateSeconds: 10 * time.Second,
		ChangeStateBeats:   3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChangeStateSeconds <= 0 {
		c.ChangeStateSeconds = d.ChangeStateSeconds
	}
	if c.ChangeStateBeats <= 0 {
		c.ChangeStateBeats = d.ChangeStateBeats
	}
	return c
}
