package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching flag is unset.
const (
	envUsername = "COURSEGRAB_USERNAME"
	envPassword = "COURSEGRAB_PASSWORD"
	envPortal   = "COURSEGRAB_PORTAL"
)

var (
	ErrInvalidDialect = errors.New("invalid portal dialect")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Dialect holds every markup and path literal the pipeline needs to know
// about a portal.  The defaults match a stock Moodle installation.
type Dialect struct {
	// Login form
	LoginPath      string `yaml:"login_path"`
	TokenField     string `yaml:"token_field"`
	LoggedInMarker string `yaml:"logged_in_marker"`

	// Profile page, only used for a greeting
	ProfilePath  string `yaml:"profile_path"`
	ProfileImage string `yaml:"profile_image"`

	// Course page
	CourseTitle   string `yaml:"course_title"`
	ResourceLink  string `yaml:"resource_link"`
	ResourceLabel string `yaml:"resource_label"`

	// Wrapper page
	ContentPath string `yaml:"content_path"`
}

// DefaultDialect returns the Moodle dialect.
func DefaultDialect() *Dialect {
	return &Dialect{
		LoginPath:      "/login/index.php",
		TokenField:     "logintoken",
		LoggedInMarker: "login/logout.php",
		ProfilePath:    "/user/profile.php",
		ProfileImage:   `.page-header-image img[src*="user/icon"]`,
		CourseTitle:    ".page-header-headings",
		ResourceLink:   "mod/resource",
		ResourceLabel:  "span.instancename",
		ContentPath:    "mod_resource/content",
	}
}

// LoadDialect reads a YAML dialect file over the defaults.  An empty path
// returns the defaults.
//
// Parameters:
//   - path: Path to a YAML file, or ""
//
// Returns:
//   - *Dialect: The merged dialect
//   - error: Read, parse, or validation failure
func LoadDialect(path string) (*Dialect, error) {
	dialect := DefaultDialect()
	if path == "" {
		return dialect, nil
	}

	//#nosec G304: path is intentionally from user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dialect file: %w", err)
	}

	err = yaml.Unmarshal(data, dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dialect file: %w", err)
	}

	err = dialect.Validate()
	if err != nil {
		return nil, err
	}
	return dialect, nil
}

// Validate reports every empty field that the pipeline cannot work without.
func (d *Dialect) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"login_path", d.LoginPath},
		{"token_field", d.TokenField},
		{"logged_in_marker", d.LoggedInMarker},
		{"course_title", d.CourseTitle},
		{"resource_link", d.ResourceLink},
		{"resource_label", d.ResourceLabel},
		{"content_path", d.ContentPath},
	}

	var errs []error
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalidDialect, field.name))
		}
	}
	return errors.Join(errs...)
}

// LoginURL returns the absolute login form URL for portal.
func (d *Dialect) LoginURL(portal string) string {
	return strings.TrimSuffix(portal, "/") + d.LoginPath
}

// ProfileURL returns the absolute profile page URL for portal.
func (d *Dialect) ProfileURL(portal string) string {
	return strings.TrimSuffix(portal, "/") + d.ProfilePath
}

// LoadEnv loads .env files from the working directory and the user's home
// directory.  Missing files are not an error, and variables already set in
// the environment win.
func LoadEnv() {
	_ = godotenv.Load(".env")
	home, err := os.UserHomeDir()
	if err == nil {
		_ = godotenv.Load(filepath.Join(home, ".coursegrab.env"))
	}
}

// ApplyEnv fills unset configuration fields from the environment.
func (c *Config) ApplyEnv() {
	if c.Username == "" {
		c.Username = os.Getenv(envUsername)
	}
	if c.Password == "" {
		c.Password = os.Getenv(envPassword)
	}
	if c.Portal == "" {
		c.Portal = os.Getenv(envPortal)
	}
	if c.Portal == "" {
		c.Portal = defaultPortal
	}
}

// Validate checks the settings needed before any request is made.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Courses) == 0 {
		errs = append(errs, fmt.Errorf("%w: no course URLs given", ErrInvalidConfig))
	}
	if c.CookieFile == "" && c.Username == "" {
		errs = append(errs, fmt.Errorf("%w: a username or a cookies file is required", ErrInvalidConfig))
	}
	if !strings.HasPrefix(c.Portal, "http://") && !strings.HasPrefix(c.Portal, "https://") {
		errs = append(errs, fmt.Errorf("%w: portal must be an http(s) URL: %q", ErrInvalidConfig, c.Portal))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("%w: output directory is required", ErrInvalidConfig))
	}
	if c.ArchiveName == "" {
		errs = append(errs, fmt.Errorf("%w: archive name is required", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
