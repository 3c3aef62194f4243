package predict

import "runtime"

type Config struct {
	Workers int `mapstructure:"workers"`
}

func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU()}
}
