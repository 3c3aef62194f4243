package learn

// Sample thresholds for is_enough, per scanner and overall.
const (
	enoughPerScanner = 20
	enoughAnyScanner = 100
	enoughScannerCap = 3
)

type Config struct {
	KalmanQ float64 `mapstructure:"kalman_q"`
	KalmanR float64 `mapstructure:"kalman_r"`
}

func DefaultConfig() Config {
	return Config{
		KalmanQ: 15,
		KalmanR: 0.08,
	}
}
