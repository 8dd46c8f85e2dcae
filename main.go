// command coursegrab
package main

// SPDX-License-Identifier: GPL-3.0-only

// This is the main entry point for coursegrab, which harvests course
// materials from a Moodle-style portal into a single zip archive.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	defaultPortal = "https://estudijas.lu.lv"
)

var (
	// Build information, set via -ldflags at build time.
	buildGitCommitHash = "unknown"
	buildTimestamp     = "unknown"

	ErrLoginCanceled = errors.New("login canceled")
)

// Config holds the application configuration parsed from CLI flags and the
// environment.
type Config struct {
	Debug       bool          // Enable debug logging
	Keep        bool          // Keep the output directory after archiving
	Remember    bool          // Store the password in the system keychain
	Username    string        // Portal username
	Password    string        // Portal password, from the environment only
	Portal      string        // Portal base URL
	OutputDir   string        // Output directory for downloads
	ArchiveName string        // Path of the zip archive
	CookieFile  string        // Path to cookies.txt file, replaces login
	DialectFile string        // Path to a YAML portal dialect
	UserAgent   string        // User-Agent header override
	Timeout     time.Duration // Per-request timeout
	RateLimit   float64       // Requests per second, 0 for unlimited
	Courses     []string      // Course page URLs
}

func main() {
	LoadEnv()
	config := ParseFlags()
	config.ApplyEnv()
	logger := CreateLogger(os.Stderr, config.Debug)

	interactive := term.IsTerminal(int(os.Stdin.Fd())) //#nosec G115: fd fits in int
	if len(config.Courses) == 0 {
		if interactive {
			fmt.Fprintln(os.Stderr, "Enter the course links (one per line). Press Enter twice to finish:")
		}
		config.Courses = ReadCourseURLs(os.Stdin)
	}

	err := config.Validate()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	dialect, err := LoadDialect(config.DialectFile)
	if err != nil {
		logger.Error("Failed to load portal dialect", "file", config.DialectFile, "error", err)
		os.Exit(1)
	}

	logger.Info("Starting coursegrab",
		"commit", buildGitCommitHash,
		"buildDate", buildTimestamp)
	logger.Debug("Configuration", "portal", config.Portal, "courses", config.Courses,
		"output", config.OutputDir, "archive", config.ArchiveName)

	client := NewHTTPClient(logger)
	client.SetTimeout(config.Timeout)
	client.SetUserAgent(config.UserAgent)
	client.SetRateLimit(config.RateLimit)

	if config.CookieFile != "" {
		err = client.LoadCookies(config.CookieFile)
	} else {
		err = authenticate(logger, client, dialect, config, interactive)
	}
	if err != nil {
		logger.Error("Authentication failed", "error", err)
		os.Exit(1)
	}

	name, err := ProfileName(client, dialect, dialect.ProfileURL(config.Portal))
	if err == nil {
		logger.Info("Logged in", "name", name)
	} else {
		logger.Debug("Profile name unavailable", "error", err)
	}

	scraper := NewScraper(
		logger,
		client,
		afero.NewOsFs(),
		dialect,
		config.Courses,
		config.OutputDir,
		config.ArchiveName,
		config.Keep)

	report, err := scraper.Run()
	if !LogReport(logger, report, err) {
		os.Exit(1)
	}
}

// LogReport logs the per-course outcome and the overall result of a run.
//
// Returns:
//   - bool: true if the archive was created
func LogReport(logger *slog.Logger, report *Report, err error) bool {
	for _, course := range report.Courses {
		if course.Err != nil {
			logger.Warn("Course failed", "url", course.URL, "error", course.Err)
			continue
		}
		logger.Info("Course saved", "course", course.Name, "files", course.Files)
	}

	switch {
	case err == nil:
		logger.Info("Done!", "archive", report.Archive, "files", report.Files())
		return true
	case errors.Is(err, ErrArchiveEmpty):
		// The empty output directory is already gone.
		logger.Error("Nothing was downloaded, no archive created", "error", err)
	default:
		logger.Error("Completed with errors, downloads left uncompressed", "dir", report.OutputDir, "error", err)
	}
	return false
}

// ParseFlags parses command line flags and returns a Config.  Positional
// arguments are course URLs.
//
// Returns:
//   - Config: A populated configuration struct with values from CLI flags
func ParseFlags() Config {
	config := Config{}

	pflag.BoolVarP(&config.Debug, "debug", "d", false, "Enable debug logging")
	pflag.BoolVarP(&config.Keep, "keep", "k", false, "Keep the output directory after creating the archive")
	pflag.BoolVarP(&config.Remember, "remember", "r", false, "Store the password in the system keychain")
	pflag.StringVarP(&config.Username, "username", "u", "", "Portal username (or "+envUsername+")")
	pflag.StringVarP(&config.Portal, "portal", "p", "", "Portal base URL (or "+envPortal+", default "+defaultPortal+")")
	pflag.StringVarP(&config.OutputDir, "output", "o", "MoodleDownloads", "Output directory for downloads")
	pflag.StringVarP(&config.ArchiveName, "archive", "z", "Courses_Data.zip", "Path of the zip archive")
	pflag.StringVarP(&config.CookieFile, "cookies", "c", "", "Path to cookies.txt file, used instead of logging in")
	pflag.StringVarP(&config.DialectFile, "dialect", "D", "", "Path to a YAML portal dialect file")
	pflag.StringVar(&config.UserAgent, "user-agent", "", "Override the User-Agent header")
	pflag.DurationVarP(&config.Timeout, "timeout", "t", defaultHTTPTimeout, "Timeout for each request")
	pflag.Float64Var(&config.RateLimit, "rate", 0, "Maximum requests per second, 0 for unlimited")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"usage: %s [-dkr] [-u <username>] [-p <portal>] [-o <output_dir>] [-z <archive>] <course-url>...\n\n",
			os.Args[0])
		pflag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nWithout course URLs, they are read from stdin, one per line.")
		fmt.Fprintln(os.Stderr, "The password is read from "+envPassword+", the keychain, or a prompt.")
	}

	pflag.Parse()
	config.Courses = pflag.Args()

	return config
}

// ReadCourseURLs reads course URLs one per line until a blank line or EOF.
func ReadCourseURLs(r io.Reader) []string {
	var courses []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		courses = append(courses, line)
	}
	return courses
}

// authenticate logs in with the configured password, the stored password, or
// a prompt.  When interactive, a rejected password prompts again until the
// login succeeds or an empty password is entered.
func authenticate(logger *slog.Logger, client Client, dialect *Dialect, config Config, interactive bool) error {
	password := config.Password
	fromKeyring := false
	if password == "" {
		stored, err := StoredPassword(config.Portal, config.Username)
		switch {
		case err == nil:
			logger.Debug("Using password from keychain", "username", config.Username)
			password = stored
			fromKeyring = true
		case errors.Is(err, ErrNoStoredPassword):
			// fall through to the prompt
		default:
			logger.Debug("Keychain unavailable", "error", err)
		}
	}

	loginURL := dialect.LoginURL(config.Portal)
	for {
		if password == "" {
			if !interactive {
				return fmt.Errorf("%w: no password available, set %s", ErrAuth, envPassword)
			}
			entered, err := promptPassword()
			if err != nil {
				return fmt.Errorf("%w: failed to read password: %w", ErrAuth, err)
			}
			if entered == "" {
				return fmt.Errorf("%w: %w", ErrAuth, ErrLoginCanceled)
			}
			password = entered
		}

		err := Login(logger, client, dialect, loginURL, config.Username, password)
		if err == nil {
			break
		}
		if errors.Is(err, ErrLoginRejected) && fromKeyring {
			logger.Warn("Stored password was rejected, removing it from the keychain", "username", config.Username)
			_ = ForgetPassword(config.Portal, config.Username)
			fromKeyring = false
		}
		if !errors.Is(err, ErrLoginRejected) || !interactive {
			return err
		}
		fmt.Fprintln(os.Stderr, "Please try again or press Enter to exit.")
		password = ""
	}

	if config.Remember {
		err := StorePassword(config.Portal, config.Username, password)
		if err != nil {
			logger.Warn("Could not store password", "error", err)
		} else {
			logger.Info("Password stored in keychain", "username", config.Username)
		}
	}
	return nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter your password (or press Enter to exit): ")
	password, err := term.ReadPassword(int(os.Stdin.Fd())) //#nosec G115: fd fits in int
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(password)), nil
}

// CreateLogger creates a new slog.Logger instance with the specified output
// writer and log level based on the debug flag.
//
// Parameters:
//   - w: The io.Writer where log output will be written
//   - debug: If true, sets log level to Debug; otherwise sets to Info
//
// Returns:
//   - *slog.Logger: A configured logger instance
func CreateLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// fatalInvariant intentionally panics when a fundamental assumption is broken.
// These checks keep the harvester from continuing in a corrupted state, so we
// do not attempt to recover or retry if one of them triggers.
func fatalInvariant(message any) {
	panic(message)
}
