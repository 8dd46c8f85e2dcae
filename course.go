package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"
)

const (
	// Directory permissions when creating course directories.
	courseDirPermissions = 0750
)

var (
	ErrCourseNameNotFound = errors.New("could not extract course name")
	ErrNoFilesSaved       = errors.New("no files saved")
)

// ResourceLink is a learning-material link found on a course page.
type ResourceLink struct {
	Name string // Display name from the link label
	URL  string // Absolute URL
}

// CourseResult is the outcome of harvesting one course.
type CourseResult struct {
	URL   string // Course page URL as given
	Name  string // Sanitized course title, also the directory name
	Dir   string // Course directory, removed again if Files is zero
	Files int    // Files saved
	Err   error  // Why the course failed, nil on success
}

// Course harvests every resource linked from one course page into a
// directory named after the course.
type Course struct {
	logger     *slog.Logger
	client     Client
	fs         afero.Fs
	dialect    *Dialect
	url        string
	outputRoot string
}

// NewCourse creates a new Course for the course page at courseURL.  Its files
// will be saved under outputRoot/<course title>.
//
// Parameters:
//   - logger: Logger instance
//   - client: Authenticated HTTP client
//   - fs: Filesystem to write to
//   - dialect: Portal dialect
//   - courseURL: Absolute URL of the course page
//   - outputRoot: Directory that will hold the course directory
//
// Returns:
//   - *Course: A new Course instance ready for use
func NewCourse(
	logger *slog.Logger,
	client Client,
	fs afero.Fs,
	dialect *Dialect,
	courseURL string,
	outputRoot string,
) *Course {
	return &Course{
		logger:     logger,
		client:     client,
		fs:         fs,
		dialect:    dialect,
		url:        courseURL,
		outputRoot: outputRoot,
	}
}

// Harvest fetches the course page, creates the course directory, and saves
// every resource it links to.  A failing link or asset is logged and skipped;
// it never aborts the course.  If nothing at all was saved, the course
// directory is removed again and ErrNoFilesSaved is returned.
//
// Returns:
//   - CourseResult: Course name, directory, and number of files saved
//   - error: nil on success; otherwise wraps ErrCourse
func (c *Course) Harvest() (CourseResult, error) {
	result := CourseResult{URL: c.url}

	page, err := c.client.Get(c.url)
	if err != nil {
		return result, fmt.Errorf("%w: failed to fetch course page: %w", ErrCourse, err)
	}

	title, links, err := c.parseCoursePage(page)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrCourse, err)
	}

	result.Name = Sanitize(title)
	if result.Name == "." || result.Name == ".." {
		return result, fmt.Errorf("%w: %w: %q", ErrCourse, ErrCourseNameNotFound, title)
	}
	result.Dir = filepath.Join(c.outputRoot, result.Name)

	err = c.fs.MkdirAll(result.Dir, courseDirPermissions)
	if err != nil {
		return result, fmt.Errorf("%w: failed to create course directory: %w", ErrCourse, err)
	}

	c.logger.Info("Harvesting course", "course", title, "links", len(links), "dir", result.Dir)

	for _, link := range links {
		saved, err := c.harvestLink(result.Dir, link)
		result.Files += saved
		if err != nil {
			c.logger.Error("Failed to download resource", "name", link.Name, "url", link.URL, "error", err)
		}
	}

	c.logger.Info("Course done", "course", title, "files", result.Files)

	if result.Files == 0 {
		c.removeIfEmpty(result.Dir)
		return result, fmt.Errorf("%w: %w: %s", ErrCourse, ErrNoFilesSaved, title)
	}
	return result, nil
}

// parseCoursePage extracts the course title and the labeled resource links.
// Links without a label are logged and skipped.
func (c *Course) parseCoursePage(page []byte) (string, []ResourceLink, error) {
	base, err := url.Parse(c.url)
	if err != nil {
		return "", nil, fmt.Errorf("invalid course URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		// goquery won't error just because the HTML is malformed.  An error
		// indicates a failure to read from the reader, which should never
		// happen since we're reading from an in-memory byte slice.
		fatalInvariant(err)
	}

	title := strings.Join(strings.Fields(doc.Find(c.dialect.CourseTitle).Text()), " ")
	if title == "" {
		return "", nil, ErrCourseNameNotFound
	}

	var links []ResourceLink
	doc.Find(fmt.Sprintf(`a[href*=%q]`, c.dialect.ResourceLink)).Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			// We just selected on the attribute.  It should exist.
			fatalInvariant("href attr we selected on doesn't exist?! HOW?!")
		}

		name := labelText(s.Find(c.dialect.ResourceLabel).First())
		if name == "" {
			c.logger.Warn("Skipping link without a name", "url", href)
			return
		}

		abs, err := resolveReference(base, href)
		if err != nil {
			c.logger.Warn("Skipping unparseable link", "name", name, "error", err)
			return
		}
		links = append(links, ResourceLink{Name: name, URL: abs})
	})

	return title, links, nil
}

// labelText returns the first non-blank text node directly inside s.  Nested
// elements are ignored; Moodle puts screen-reader suffixes like " File" in a
// child span.
func labelText(s *goquery.Selection) string {
	var text string
	s.Contents().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if goquery.NodeName(n) != "#text" {
			return true
		}
		text = strings.TrimSpace(n.Text())
		return text == ""
	})
	return text
}

// harvestLink probes one resource link and saves either the file itself or
// the assets embedded in its wrapper page.
//
// Returns:
//   - int: Files saved, which may be non-zero even when an error is returned
//   - error: Why the link failed, wrapping ErrResource
func (c *Course) harvestLink(dir string, link ResourceLink) (int, error) {
	c.logger.Info("Downloading resource", "name", link.Name, "url", link.URL)

	response, err := c.client.Open(link.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResource, err)
	}

	// Classify on the final URL: view pages often redirect to the file.
	kind := Classify(response.Header, response.URL)
	c.logger.Debug("Resource classified", "name", link.Name, "kind", kind, "url", response.URL)

	if kind == KindDirectFile {
		defer func() { _ = response.Body.Close() }()
		filename := link.Name + ResolveExtension(response.Header, response.URL)
		err := c.save(dir, filename, response.Body)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrResource, err)
		}
		return 1, nil
	}

	_ = response.Body.Close()

	c.logger.Info("Not a direct file, scraping embedded files", "name", link.Name, "url", link.URL)
	assets := ExtractEmbedded(c.logger, c.client, c.dialect, link.URL)
	if len(assets) == 0 {
		c.logger.Warn("No embedded files found", "name", link.Name, "url", link.URL)
		return 0, nil
	}

	saved := 0
	for _, asset := range assets {
		err := c.download(dir, link.Name+"_"+assetBasename(asset), asset)
		if err != nil {
			c.logger.Error("Failed to download embedded file", "name", link.Name, "url", asset, "error", err)
			continue
		}
		saved++
	}
	return saved, nil
}

// download fetches uri and saves it as filename in dir.
func (c *Course) download(dir string, filename string, uri string) error {
	response, err := c.client.Open(uri)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	defer func() { _ = response.Body.Close() }()

	err = c.save(dir, filename, response.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	return nil
}

// save writes r to a collision-free path for filename in dir.
func (c *Course) save(dir string, filename string, r io.Reader) error {
	target := UniquePath(c.fs, filepath.Join(dir, Sanitize(filename)))
	if filepath.Dir(target) != filepath.Clean(dir) {
		return fmt.Errorf("%w: %s", ErrInvalidFilePath, target)
	}

	n, err := WriteAndFsyncFile(c.fs, target, r)
	if err != nil {
		return err
	}

	c.logger.Info("Saved file", "file", target, "bytes", n)
	return nil
}

// removeIfEmpty deletes a course directory that ended up with nothing in it.
// A directory reused from an earlier course with the same title may hold
// files, and is left alone.
func (c *Course) removeIfEmpty(dir string) {
	empty, err := afero.IsEmpty(c.fs, dir)
	if err != nil || !empty {
		c.logger.Debug("Keeping course directory", "dir", dir, "error", err)
		return
	}

	err = c.fs.Remove(dir)
	if err != nil {
		c.logger.Error("Failed to remove empty course directory", "dir", dir, "error", err)
	}
}
