package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "coursegrab"
)

var (
	ErrNoStoredPassword = errors.New("no stored password")
)

// keyringUser builds the keyring account name.  The portal host is part of
// it, so one username on two portals keeps two passwords.
func keyringUser(portal string, username string) string {
	host := portal
	u, err := url.Parse(portal)
	if err == nil && u.Host != "" {
		host = u.Host
	}
	return username + "@" + host
}

// StorePassword saves a password in the system keychain.
func StorePassword(portal string, username string, password string) error {
	err := keyring.Set(keyringService, keyringUser(portal, username), password)
	if err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// StoredPassword reads a password saved by StorePassword.
//
// Returns:
//   - string: The password
//   - error: ErrNoStoredPassword if there is none, or a keyring failure
func StoredPassword(portal string, username string) (string, error) {
	password, err := keyring.Get(keyringService, keyringUser(portal, username))
	switch {
	case err == nil:
		return password, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", ErrNoStoredPassword
	default:
		return "", fmt.Errorf("failed to read from keyring: %w", err)
	}
}

// ForgetPassword removes a stored password.  Removing one that does not
// exist is not an error.
func ForgetPassword(portal string, username string) error {
	err := keyring.Delete(keyringService, keyringUser(portal, username))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
