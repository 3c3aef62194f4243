package ws

// Config bounds the per-topic forward queues and per-client send buffers.
type Config struct {
	QueueSize  int `mapstructure:"queue_size"`
	SendBuffer int `mapstructure:"send_buffer"`
}

func DefaultConfig() Config {
	return Config{QueueSize: 1024, SendBuffer: 256}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}
