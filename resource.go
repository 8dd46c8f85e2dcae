package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"
)

const (
	// File permissions for downloaded files.
	outputFilePermissions = 0640

	// Never overwrite: paths come from UniquePath, so an existing file means
	// something else raced us.
	createExclusive = os.O_WRONLY | os.O_CREATE | os.O_EXCL
)

var (
	ErrInvalidFilePath = errors.New("invalid file path")
)

// ExtractEmbedded fetches a wrapper page and returns the absolute URLs of the
// assets it embeds: every img src and then every a href whose path contains
// the dialect's content path.  Order and duplicates are preserved.  Any fetch
// or parse error is logged and yields an empty list.
//
// Parameters:
//   - logger: Logger instance
//   - client: HTTP client interface for making web requests
//   - dialect: Portal dialect
//   - wrapperURL: Absolute URL of the wrapper page
//
// Returns:
//   - []string: Absolute asset URLs, possibly empty
func ExtractEmbedded(logger *slog.Logger, client Client, dialect *Dialect, wrapperURL string) []string {
	page, err := client.Get(wrapperURL)
	if err != nil {
		logger.Error("Failed to fetch wrapper page", "url", wrapperURL, "error", err)
		return nil
	}

	assets, err := parseEmbeddedAssets(logger, page, wrapperURL, dialect.ContentPath)
	if err != nil {
		logger.Error("Failed to scrape wrapper page", "url", wrapperURL, "error", err)
		return nil
	}

	logger.Debug("Embedded assets found", "url", wrapperURL, "count", len(assets))
	return assets
}

// parseEmbeddedAssets is the markup half of ExtractEmbedded.  A reference that
// does not parse is logged and skipped.
func parseEmbeddedAssets(logger *slog.Logger, page []byte, pageURL string, contentPath string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var refs []string
	doc.Find(fmt.Sprintf(`img[src*=%q]`, contentPath)).Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, s.AttrOr("src", ""))
	})
	doc.Find(fmt.Sprintf(`a[href*=%q]`, contentPath)).Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, s.AttrOr("href", ""))
	})

	assets := make([]string, 0, len(refs))
	for _, ref := range refs {
		abs, err := resolveReference(base, ref)
		if err != nil {
			logger.Warn("Skipping unparseable embedded file", "page", pageURL, "error", err)
			continue
		}
		assets = append(assets, abs)
	}
	return assets, nil
}

// resolveReference makes ref absolute against base.  Root-relative paths get
// the portal origin; already-absolute URLs are returned unchanged.
func resolveReference(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}

// assetBasename returns the last path element of an asset URL, URL-decoded
// when possible.
func assetBasename(assetURL string) string {
	u, err := url.Parse(assetURL)
	if err != nil {
		return path.Base(assetURL)
	}
	name := path.Base(u.Path)
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}

// WriteAndFsyncFile streams r into a new file at filePath and fsyncs it.  A
// partially written file is removed, so a failed download never leaves
// anything behind in the course directory.
//
// Parameters:
//   - fs: Target filesystem
//   - filePath: The target file path where data should be written
//   - r: The data to write
//
// Returns:
//   - int64: Bytes written
//   - error: Any error encountered during file creation, writing, or syncing
func WriteAndFsyncFile(fs afero.Fs, filePath string, r io.Reader) (int64, error) {
	// Prevent directory traversal attacks.
	// This should never happen because names go through Sanitize, but check anyway.
	if filePath != filepath.Clean(filePath) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidFilePath, filePath)
	}

	fh, err := fs.OpenFile(filePath, createExclusive, outputFilePermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(fh, r)
	if err == nil {
		err = fh.Sync()
	}
	closeErr := fh.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fs.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}
