package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8000 {
		t.Errorf("Port = %d, expected 8000", cfg.Port)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, expected sqlite", cfg.DBDriver)
	}
	if cfg.NoFaceResetFrames != 30 {
		t.Errorf("NoFaceResetFrames = %d, expected 30", cfg.NoFaceResetFrames)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, cfg.CameraIndices); diff != "" {
		t.Errorf("CameraIndices mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("CAMERA_INDICES", "2, 0")
	t.Setenv("CAMERA_CODECS", "YUYV,,MJPG")
	t.Setenv("CAMERA_FPS_LIST", "15,7.5")
	t.Setenv("MICROSLEEP_S", "1.5")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_PASSWORD", "hunter2")

	cfg := Load()

	if cfg.Port != 9100 {
		t.Errorf("Port = %d, expected 9100", cfg.Port)
	}
	if diff := cmp.Diff([]int{2, 0}, cfg.CameraIndices); diff != "" {
		t.Errorf("CameraIndices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"YUYV", "MJPG"}, cfg.CameraCodecs); diff != "" {
		t.Errorf("CameraCodecs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{15, 7.5}, cfg.CameraFPS); diff != "" {
		t.Errorf("CameraFPS mismatch (-want +got):\n%s", diff)
	}
	if cfg.MicrosleepSeconds != 1.5 {
		t.Errorf("MicrosleepSeconds = %v, expected 1.5", cfg.MicrosleepSeconds)
	}
	if !strings.Contains(cfg.DSN(), "password=hunter2") {
		t.Errorf("DSN() = %q, expected the password", cfg.DSN())
	}
	if strings.Contains(cfg.DSNForLog(), "hunter2") {
		t.Errorf("DSNForLog() leaks the password: %q", cfg.DSNForLog())
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"PORT", "eighty", func(c *Config) bool { return c.Port == 8000 }},
		{"YAWN_HOLD_S", "long", func(c *Config) bool { return c.YawnHoldSeconds == 4.0 }},
		{"CAMERA_INDICES", "0,x", func(c *Config) bool { return cmp.Equal(c.CameraIndices, []int{0, 1, 2}) }},
		{"CAMERA_CODECS", " , ", func(c *Config) bool { return cmp.Equal(c.CameraCodecs, []string{"MJPG", "YUYV"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if !tt.check(Load()) {
				t.Errorf("%s=%q did not fall back to the default", tt.key, tt.value)
			}
		})
	}
}
