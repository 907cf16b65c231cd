package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"10s", 10 * time.Second, false},
		{"1m", 1 * time.Minute, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"100ms", 100 * time.Millisecond, false},
		{"", 0, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestDurationYAML(t *testing.T) {
	type holder struct {
		TTL   Duration `yaml:"ttl"`
		Delay Duration `yaml:"delay"`
	}

	var h holder
	if err := yaml.Unmarshal([]byte("ttl: 2d\ndelay: 1500ms\n"), &h); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if h.TTL.D() != 48*time.Hour {
		t.Errorf("Expected 48h, got %v", h.TTL.D())
	}
	if h.Delay.D() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got %v", h.Delay.D())
	}

	out, err := yaml.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back holder
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal of marshaled output failed: %v", err)
	}
	if back != h {
		t.Errorf("Round trip changed value: %+v -> %+v", h, back)
	}
}
