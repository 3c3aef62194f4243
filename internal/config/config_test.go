package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"empty format defaults to json", "warn", "", false},
		{"invalid level", "banana", "json", true},
		{"invalid format", "info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("logging.level", tt.level)
			v.Set("logging.format", tt.format)

			logger, err := NewLogger(v)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestViperConfig_TypedGetters(t *testing.T) {
	v := viper.New()
	v.Set("period", "500ms")
	v.Set("kalman_q", 15.0)
	v.Set("beats", 3)
	v.Set("enabled", true)

	cfg := New(v)

	if got := cfg.GetDuration("period"); got != 500*time.Millisecond {
		t.Errorf("GetDuration(period) = %v, want 500ms", got)
	}
	if got := cfg.GetFloat64("kalman_q"); got != 15.0 {
		t.Errorf("GetFloat64(kalman_q) = %v, want 15", got)
	}
	if got := cfg.GetInt("beats"); got != 3 {
		t.Errorf("GetInt(beats) = %d, want 3", got)
	}
	if !cfg.GetBool("enabled") {
		t.Error("GetBool(enabled) = false, want true")
	}
	if cfg.IsSet("missing") {
		t.Error("IsSet(missing) = true, want false")
	}
}

func TestViperConfig_SubMissingSection(t *testing.T) {
	cfg := New(viper.New())
	sub := cfg.Sub("plugins.heartbeat")
	if sub == nil {
		t.Fatal("Sub() returned nil, want empty config")
	}
	if sub.IsSet("period") {
		t.Error("empty sub-config claims period is set")
	}
}
