package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv
const (
	EnvUsername       = "GITHUB_USERNAME"
	EnvPassword       = "GITHUB_PASSWORD"
	EnvHeadless       = "DENCHO_HEADLESS"
	EnvPort           = "DENCHO_PORT"
	EnvAllowedOrigins = "DENCHO_ALLOWED_ORIGINS"
)

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides file values with the process environment.
func (c *Config) ApplyEnv() error {
	return c.ApplyEnvFrom(os.LookupEnv)
}

// ApplyEnvFrom overrides file values with variables from lookup. Empty
// variables are ignored.
func (c *Config) ApplyEnvFrom(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvUsername); ok {
		c.Credentials.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		// passwords are taken verbatim
		c.Credentials.Password = v
	}
	if v, ok := get(EnvHeadless); ok {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvHeadless, v, err)
		}
		c.Browser.Headless = headless
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.Port = port
	}
	if v, ok := get(EnvAllowedOrigins); ok {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	return nil
}
