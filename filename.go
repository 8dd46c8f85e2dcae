package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

const (
	// Extension used when neither the headers nor the URL name one.
	defaultExtension = ".bin"

	// Upper bound on numeric suffixes tried by UniquePath and UniqueDir.
	maxUniqueSuffix = 100000
)

var (
	// Characters that are invalid in a path component on at least one
	// supported filesystem.
	filenameReplacer = strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"/", "_",
		"\\", "_",
		"|", "_",
		"?", "_",
		"*", "_",
	)

	// Used when Content-Disposition is too malformed for mime.ParseMediaType.
	dispositionFilenameRegexp = regexp.MustCompile(`filename="([^"]+)"`)
)

// Sanitize replaces characters invalid in filesystem paths with "_" and trims
// surrounding whitespace.
//
// Security: "/" and "\" are replaced, so the result is always a single path
// component.
func Sanitize(name string) string {
	return strings.TrimSpace(filenameReplacer.Replace(name))
}

// ResolveExtension determines a file's extension, preferring the filename in
// the Content-Disposition header, then the URL path, then ".bin".
//
// Parameters:
//   - header: Response headers
//   - uri: The URL the response came from
//
// Returns:
//   - string: An extension including the leading dot
func ResolveExtension(header http.Header, uri string) string {
	if name := dispositionFilename(header.Get("Content-Disposition")); name != "" {
		if ext := path.Ext(name); ext != "" {
			return ext
		}
	}

	u, err := url.Parse(uri)
	if err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}

	return defaultExtension
}

// dispositionFilename extracts the URL-decoded filename from a
// Content-Disposition value, or "" if there is none.
func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}

	var name string
	_, params, err := mime.ParseMediaType(disposition)
	if err == nil {
		name = params["filename"]
	}
	if name == "" {
		match := dispositionFilenameRegexp.FindStringSubmatch(disposition)
		if match == nil {
			return ""
		}
		name = match[1]
	}

	decoded, err := url.PathUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}

// UniquePath returns base if nothing exists there, otherwise the first of
// "name_1.ext", "name_2.ext", ... that does not exist.  Not safe for
// concurrent use on the same base name.
//
// Parameters:
//   - fs: Filesystem to check against
//   - base: Desired path
//
// Returns:
//   - string: A path that did not exist at call time
func UniquePath(fs afero.Fs, base string) string {
	if !exists(fs, base) {
		return base
	}

	ext := filepath.Ext(base)
	if ext == filepath.Base(base) {
		// Dotfiles like ".bashrc" have no extension to preserve.
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)

	for i := 1; i <= maxUniqueSuffix; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !exists(fs, candidate) {
			return candidate
		}
	}
	fatalInvariant(fmt.Sprintf("no unique path available for %s", base))
	return ""
}

// UniqueDir is UniquePath for directories: the suffix goes at the end of the
// name, since directory names have no extension.
func UniqueDir(fs afero.Fs, base string) string {
	if !exists(fs, base) {
		return base
	}
	for i := 1; i <= maxUniqueSuffix; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !exists(fs, candidate) {
			return candidate
		}
	}
	fatalInvariant(fmt.Sprintf("no unique directory available for %s", base))
	return ""
}

// exists treats any Stat error other than "not found" as existing, so that we
// never pick a path we could not inspect.
func exists(fs afero.Fs, p string) bool {
	_, err := fs.Stat(p)
	return err == nil || !os.IsNotExist(err)
}
