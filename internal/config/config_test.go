// internal/config/config_test.go
package config

import "testing"

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Database: DatabaseConfig{
			Storage: "postgres",
			Host:    "localhost",
		},
		Logging: LoggingConfig{Level: "info"},
		FDM: FDMConfig{
			ConnectionType:  "SERIAL",
			TerminalID:      "POS-01",
			PosProductionID: "POS0001234567A",
		},
		App: AppConfig{Environment: "development"},
	}
}

func TestValidateStorageSelection(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "postgres with host",
			mutate: func(c *Config) {},
		},
		{
			name: "memory needs no database host",
			mutate: func(c *Config) {
				c.Database.Storage = "memory"
				c.Database.Host = ""
			},
		},
		{
			name:    "postgres requires host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
		},
		{
			name:    "unknown storage rejected",
			mutate:  func(c *Config) { c.Database.Storage = "redis" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUsesPostgres(t *testing.T) {
	cfg := validConfig()
	if !cfg.UsesPostgres() {
		t.Error("UsesPostgres() = false for postgres storage")
	}
	cfg.Database.Storage = "memory"
	if cfg.UsesPostgres() {
		t.Error("UsesPostgres() = true for memory storage")
	}
}
