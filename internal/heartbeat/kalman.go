package heartbeat

// Default Kalman filter noise parameters.
const (
	DefaultKalmanQ = 15.0 // measurement noise
	DefaultKalmanR = 0.08 // process noise
)

// RSSIFilter is a univariate Kalman filter smoothing a stream of RSSI
// measurements from one scanner.
type RSSIFilter struct {
	q   float64
	r   float64
	x   float64
	cov float64
}

// NewRSSIFilter creates a filter with the given measurement noise q and
// process noise r. Non-positive values fall back to the defaults.
func NewRSSIFilter(q, r float64) *RSSIFilter {
	if q <= 0 {
		q = DefaultKalmanQ
	}
	if r <= 0 {
		r = DefaultKalmanR
	}
	return &RSSIFilter{q: q, r: r}
}

// Filter consumes one measurement and returns the filtered estimate.
// The first measurement initializes the state directly.
func (f *RSSIFilter) Filter(z float64) float64 {
	if f.cov == 0 {
		f.x = z
		f.cov = f.q
		return f.x
	}
	k := f.cov / (f.cov + f.q)
	f.x += k * (z - f.x)
	f.cov = (1-k)*f.cov + f.r
	return f.x
}

// Reset forces the state to z and restores the initial covariance.
func (f *RSSIFilter) Reset(z float64) float64 {
	f.x = z
	f.cov = f.q
	return z
}

// Last returns the current estimate; ok is false before the first measurement.
func (f *RSSIFilter) Last() (x float64, ok bool) {
	return f.x, f.cov != 0
}
