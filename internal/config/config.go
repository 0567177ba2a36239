package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	// DatabaseURL is optional: when empty the compile endpoints still
	// work but query execution is disabled.
	DatabaseURL string
	Port        string
	CORSOrigins []string

	// EventsTable, when set, overrides the source-table name queries
	// compile against. Empty keeps the name the query itself uses.
	EventsTable string
}

func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	origins := splitList(os.Getenv("CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        port,
		CORSOrigins: origins,
		EventsTable: os.Getenv("EVENTS_TABLE"),
	}, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
