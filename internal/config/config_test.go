package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }, "api"},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }, "0.0.0.0"},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }, "8080"},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }, "json"},
		{"default dunning warning days", func(c *Config) bool { return c.DunningWarningDays == 3 }, "3"},
		{"default dunning suspend days", func(c *Config) bool { return c.DunningSuspendDays == 7 }, "7"},
		{"default dunning final warn days", func(c *Config) bool { return c.DunningFinalWarnDays == 15 }, "15"},
		{"default dunning delete days", func(c *Config) bool { return c.DunningDeleteDays == 30 }, "30"},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }, "0.0.0.0:8080"},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
