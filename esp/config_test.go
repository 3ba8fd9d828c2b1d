package esp_test

import (
	"testing"
	"time"

	"i4.energy/across/espbridge/esp"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := esp.NewConfigBuilder().Build()

		if err != esp.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Builds with a dialer", func(t *testing.T) {
		_, err := esp.NewConfigBuilder().
			WithDialer(esp.SerialDialer{PortName: "/dev/ttyUSB0"}).
			WithTimeouts(esp.Timeouts{Receive: time.Second}).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}
	})
}

func TestDefaultTimeouts(t *testing.T) {
	got := esp.DefaultTimeouts()
	expected := esp.Timeouts{
		Receive:     5 * time.Second,
		Reset:       5 * time.Second,
		Associate:   15 * time.Second,
		SessionIdle: 7200 * time.Second,
		Data:        7200 * time.Second,
	}
	if got != expected {
		t.Errorf("expected %+v, got %+v", expected, got)
	}
	if esp.MaxSessionIdleTimeout != 7200*time.Second {
		t.Errorf("unexpected MaxSessionIdleTimeout %s", esp.MaxSessionIdleTimeout)
	}
}
