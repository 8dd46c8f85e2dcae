package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrLoginTokenNotFound  = errors.New("could not find login token")
	ErrLoginRejected       = errors.New("login rejected, check username and password")
	ErrProfileNameNotFound = errors.New("could not find profile name")
)

// Login performs the portal's form login.  It reads the single-use
// anti-forgery token from the login page, posts it back with the
// credentials, and checks the resulting page for the logged-in marker.  On
// success the client's cookie jar holds the session cookie.  No retries are
// attempted here; the caller decides whether to try other credentials.
//
// Parameters:
//   - logger: Logger instance
//   - client: The client whose cookie jar will hold the session
//   - dialect: Portal dialect
//   - loginURL: Absolute URL of the login form
//   - username: Portal username
//   - password: Portal password
//
// Returns:
//   - error: nil on success; otherwise wraps ErrAuth
func Login(logger *slog.Logger, client Client, dialect *Dialect, loginURL string, username string, password string) error {
	logger.Debug("Login", "url", loginURL, "username", username)

	page, err := client.Get(loginURL)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch login page: %w", ErrAuth, err)
	}

	token, err := parseLoginToken(page, dialect.TokenField)
	if err != nil {
		logger.Error("Login page has no token field", "url", loginURL, "field", dialect.TokenField)
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	form := url.Values{
		"username":         {username},
		"password":         {password},
		dialect.TokenField: {token},
	}
	result, err := client.PostForm(loginURL, form)
	if err != nil {
		return fmt.Errorf("%w: failed to submit login form: %w", ErrAuth, err)
	}

	if !bytes.Contains(result, []byte(dialect.LoggedInMarker)) {
		logger.Error("Login failed", "username", username)
		return fmt.Errorf("%w: %w", ErrAuth, ErrLoginRejected)
	}

	logger.Info("Login successful", "username", username)
	return nil
}

// parseLoginToken returns the value of the hidden input named field.
func parseLoginToken(page []byte, field string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse login page: %w", err)
	}

	token, exists := doc.Find(fmt.Sprintf(`input[name=%q]`, field)).First().Attr("value")
	if !exists {
		return "", ErrLoginTokenNotFound
	}
	return token, nil
}

// ProfileName fetches the logged-in user's profile page and returns their
// display name, taken from the avatar image title.
func ProfileName(client Client, dialect *Dialect, profileURL string) (string, error) {
	page, err := client.Get(profileURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse profile page: %w", err)
	}

	name := strings.TrimSpace(doc.Find(dialect.ProfileImage).First().AttrOr("title", ""))
	if name == "" {
		return "", ErrProfileNameNotFound
	}
	return name, nil
}
