package db

import (
	"strings"
	"testing"

	"UltimateDJ/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "dj",
		DBPassword: "secret",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "ultimate_dj",
	}
	dsn := DSN(cfg)
	for _, want := range []string{"dj:secret@tcp(db.local:3307)/ultimate_dj", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
