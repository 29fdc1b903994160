package pricefeed

import (
	"testing"
	"time"
)

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		session time.Duration
		want    time.Duration
	}{
		{"doubles after quick failure", time.Second, 100 * time.Millisecond, 2 * time.Second},
		{"keeps doubling", 8 * time.Second, time.Second, 16 * time.Second},
		{"caps at the maximum", 45 * time.Second, time.Second, reconnectMax},
		{"stays capped", reconnectMax, time.Second, reconnectMax},
		{"healthy session resets", 32 * time.Second, time.Minute, reconnectBase},
		{"reset applies at the threshold", reconnectMax, healthySession, reconnectBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextDelay(tt.delay, tt.session); got != tt.want {
				t.Errorf("nextDelay(%v, %v) = %v, want %v", tt.delay, tt.session, got, tt.want)
			}
		})
	}
}
