package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Kind is the classification of a resource link.
type Kind int

const (
	// KindWrapperPage is an HTML page that embeds or links to the real files.
	KindWrapperPage Kind = iota
	// KindDirectFile is a downloadable file.
	KindDirectFile
)

func (k Kind) String() string {
	switch k {
	case KindWrapperPage:
		return "wrapper page"
	case KindDirectFile:
		return "direct file"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// Content types served for downloadable files.  text/html is listed
	// because some portals serve standalone .html materials, but an HTML
	// content type always loses to the override in Classify.
	fileMIMETypes = map[string]bool{
		// Documents
		"application/pdf":    true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
		"application/vnd.ms-excel": true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
		"application/vnd.ms-powerpoint": true,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
		"application/vnd.oasis.opendocument.text":         true,
		"application/vnd.oasis.opendocument.spreadsheet":  true,
		"application/vnd.oasis.opendocument.presentation": true,
		"text/plain":      true,
		"application/rtf": true,
		"text/csv":        true,
		"text/html":       true,
		"application/xml": true,

		// Images
		"image/png":     true,
		"image/jpeg":    true,
		"image/gif":     true,
		"image/bmp":     true,
		"image/tiff":    true,
		"image/svg+xml": true,

		// Archives
		"application/zip":              true,
		"application/x-rar-compressed": true,
		"application/x-tar":            true,
		"application/gzip":             true,
		"application/x-7z-compressed":  true,

		// Audio
		"audio/mpeg": true,
		"audio/wav":  true,
		"audio/ogg":  true,
		"audio/flac": true,

		// Video
		"video/mp4":        true,
		"video/x-msvideo":  true,
		"video/x-matroska": true,
		"video/quicktime":  true,
		"video/webm":       true,

		// Source and data
		"application/json":       true,
		"application/javascript": true,
		"text/x-python":          true,
		"text/x-java-source":     true,
		"application/sql":        true,

		// Other
		"application/octet-stream":      true,
		"application/x-apple-diskimage": true,
		"application/x-iso9660-image":   true,
	}

	// URL path suffixes of downloadable files.
	fileExtensions = []string{
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
		".odt", ".ods", ".odp", ".txt", ".rtf", ".csv", ".html", ".xml",
		".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff", ".svg",
		".zip", ".rar", ".tar", ".gz", ".7z",
		".mp3", ".wav", ".ogg", ".flac",
		".mp4", ".avi", ".mkv", ".mov", ".webm",
		".json", ".js", ".py", ".java", ".sql",
		".exe", ".dmg", ".iso",
	}
)

// Classify decides whether uri, probed with the given response headers, is a
// direct file or a wrapper page.  Either the content type or the URL suffix
// may mark a file, but an HTML content type always means wrapper page:
// portals serve interstitial pages even for file-like URLs.
//
// Parameters:
//   - header: Headers of the probe response
//   - uri: The probed URL
//
// Returns:
//   - Kind: KindDirectFile or KindWrapperPage
func Classify(header http.Header, uri string) Kind {
	contentType := strings.ToLower(header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return KindWrapperPage
	}

	if fileMIMETypes[mediaType(contentType)] || hasFileExtension(uri) {
		return KindDirectFile
	}
	return KindWrapperPage
}

// mediaType strips parameters such as charset from a content type.
func mediaType(contentType string) string {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		before, _, _ := strings.Cut(contentType, ";")
		return strings.TrimSpace(before)
	}
	return parsed
}

func hasFileExtension(uri string) bool {
	p := uri
	u, err := url.Parse(uri)
	if err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	for _, ext := range fileExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
