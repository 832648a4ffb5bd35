// Package config loads dencho's settings.
//
// Values are resolved with the precedence
//
//	CLI flags > environment variables > config file > defaults
//
// The file is YAML (dencho.yaml). Relative paths in it are resolved against
// the application root, see DetectRoot.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/dencho/pkg/automation"
	"github.com/entrhq/dencho/pkg/browser"
)

// FileName is the config file looked up in the application root.
const FileName = "dencho.yaml"

// Defaults
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 3939
	DefaultSessionPath = "credentials/supabase-session.json"
	DefaultDownloadDir = "downloads/invoice"
	DefaultLogDir      = "logs"
)

// Config is the complete dencho configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Paths       PathsConfig       `yaml:"paths"`
	Browser     BrowserConfig     `yaml:"browser"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Site        automation.Site   `yaml:"site"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServerConfig configures the control server.
type ServerConfig struct {
	// Host must be a loopback address; the server is never exposed beyond the machine
	Host string `yaml:"host" validate:"required,loopback"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// AllowedOrigins are glob patterns matched against the Origin header; "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins" validate:"min=1,dive,required"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

// PathsConfig locates the files dencho reads and writes.
type PathsConfig struct {
	Session   string `yaml:"session" validate:"required"`
	Downloads string `yaml:"downloads" validate:"required"`
	Logs      string `yaml:"logs" validate:"required"`
}

// BrowserConfig configures the browser engine.
type BrowserConfig struct {
	// Headless forces headless mode even when no session snapshot exists
	Headless bool `yaml:"headless"`

	// BrowsersPath overrides where Playwright installs browsers
	BrowsersPath string `yaml:"browsers_path"`
}

// TimeoutsConfig bounds the driver's waits.
type TimeoutsConfig struct {
	Navigation time.Duration `yaml:"navigation" validate:"gt=0"`
	Auth       time.Duration `yaml:"auth" validate:"gt=0"`
	Element    time.Duration `yaml:"element" validate:"gt=0"`
	Download   time.Duration `yaml:"download" validate:"gt=0"`
}

// CredentialsConfig holds identity provider credentials. Prefer the
// GITHUB_USERNAME and GITHUB_PASSWORD environment variables over the file.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
		},
		Paths: PathsConfig{
			Session:   DefaultSessionPath,
			Downloads: DefaultDownloadDir,
			Logs:      DefaultLogDir,
		},
		Timeouts: TimeoutsConfig{
			Navigation: automation.DefaultNavigationTimeout,
			Auth:       automation.DefaultAuthTimeout,
			Element:    automation.DefaultElementTimeout,
			Download:   automation.DefaultDownloadTimeout,
		},
		Site: automation.DefaultSite(),
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Overrides are values given on the command line. Nil fields are unset.
type Overrides struct {
	Port     *int
	Headless *bool
}

// ApplyOverrides applies command-line values, which win over everything else.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Port != nil {
		c.Server.Port = *o.Port
	}
	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
}

// Resolve makes every relative path absolute against root.
func (c *Config) Resolve(root string) {
	c.Paths.Session = resolvePath(root, c.Paths.Session)
	c.Paths.Downloads = resolvePath(root, c.Paths.Downloads)
	c.Paths.Logs = resolvePath(root, c.Paths.Logs)
	if c.Browser.BrowsersPath != "" {
		c.Browser.BrowsersPath = resolvePath(root, c.Browser.BrowsersPath)
	}
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("loopback", isLoopback); err != nil {
		return fmt.Errorf("failed to register validation: %w", err)
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func isLoopback(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DriverConfig maps the configuration onto the automation driver.
func (c *Config) DriverConfig() automation.Config {
	return automation.Config{
		Site:          c.Site,
		DownloadDir:   c.Paths.Downloads,
		ForceHeadless: c.Browser.Headless,
		Credentials: automation.Credentials{
			Username: c.Credentials.Username,
			Password: c.Credentials.Password,
		},
		NavigationTimeout: c.Timeouts.Navigation,
		AuthTimeout:       c.Timeouts.Auth,
		ElementTimeout:    c.Timeouts.Element,
		DownloadTimeout:   c.Timeouts.Download,
	}
}

// BrowserOptions maps the configuration onto the Playwright adapter.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{BrowsersPath: c.Browser.BrowsersPath}
}
