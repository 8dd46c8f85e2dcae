package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
)

const (
	// Directory permissions when creating the output root.
	outputDirPermissions = 0750
)

// Report summarizes a pipeline run.
type Report struct {
	OutputDir string         // Output root actually used
	Archive   string         // Archive path actually used
	Courses   []CourseResult // One per course URL, in input order
}

// Files returns the total number of files saved across all courses.
func (r *Report) Files() int {
	total := 0
	for _, course := range r.Courses {
		total += course.Files
	}
	return total
}

// Failed returns the courses that saved nothing.
func (r *Report) Failed() []CourseResult {
	var failed []CourseResult
	for _, course := range r.Courses {
		if course.Err != nil {
			failed = append(failed, course)
		}
	}
	return failed
}

// Scraper drives the harvesting pipeline over an already authenticated
// client: every course in turn, then the archive.
type Scraper struct {
	logger      *slog.Logger
	client      Client
	fs          afero.Fs
	dialect     *Dialect
	courses     []string
	outputDir   string
	archiveName string
	keepOutput  bool
}

// NewScraper creates a new Scraper instance.
//
// Parameters:
//   - logger: Logger instance for writing log messages
//   - client: Authenticated HTTP client
//   - fs: Filesystem for the output tree and the archive
//   - dialect: Portal dialect
//   - courses: Course page URLs, processed in order
//   - outputDir: Desired output root; a numeric suffix is added if it exists
//   - archiveName: Desired archive path; a numeric suffix is added if it exists
//   - keepOutput: Keep the uncompressed tree after a successful archive
//
// Returns:
//   - *Scraper: A new Scraper instance ready for use
func NewScraper(
	logger *slog.Logger,
	client Client,
	fs afero.Fs,
	dialect *Dialect,
	courses []string,
	outputDir string,
	archiveName string,
	keepOutput bool,
) *Scraper {
	return &Scraper{
		logger:      logger,
		client:      client,
		fs:          fs,
		dialect:     dialect,
		courses:     courses,
		outputDir:   outputDir,
		archiveName: archiveName,
		keepOutput:  keepOutput,
	}
}

// Run harvests every course sequentially and compresses the output tree.  A
// failed course is logged and recorded in the report; only an archive
// failure fails the run, in which case the downloads stay on disk.
//
// Returns:
//   - *Report: What was harvested, also on failure
//   - error: nil on success; otherwise wraps ErrArchive
func (s *Scraper) Run() (*Report, error) {
	report := &Report{
		OutputDir: UniqueDir(s.fs, s.outputDir),
		Archive:   UniquePath(s.fs, s.archiveName),
	}

	s.logger.Info("Scraper running",
		"courses", len(s.courses), "output", report.OutputDir, "archive", report.Archive)

	err := s.fs.MkdirAll(report.OutputDir, outputDirPermissions)
	if err != nil {
		return report, fmt.Errorf("%w: failed to create output directory: %w", ErrArchive, err)
	}

	// The main loop.  One course at a time, each failure contained to its
	// course.
	for _, courseURL := range s.courses {
		s.logger.Info("Processing course", "url", courseURL)
		course := NewCourse(s.logger, s.client, s.fs, s.dialect, courseURL, report.OutputDir)
		result, err := course.Harvest()
		result.Err = err
		report.Courses = append(report.Courses, result)

		switch {
		case err == nil:
			// continue
		case errors.Is(err, ErrCourse):
			s.logger.Warn("Course skipped", "url", courseURL, "error", err)
		default:
			fatalInvariant(fmt.Errorf("unexpected error kind from course %s: %w", courseURL, err))
		}
	}

	s.logger.Info("Creating archive", "files", report.Files(), "archive", report.Archive)
	err = BuildArchive(s.logger, s.fs, report.OutputDir, report.Archive)
	if err != nil {
		if errors.Is(err, ErrArchiveEmpty) {
			_ = s.fs.Remove(report.OutputDir)
		}
		return report, err
	}

	if !s.keepOutput {
		err = s.fs.RemoveAll(report.OutputDir)
		if err != nil {
			// The archive is complete, so this is only untidy.
			s.logger.Error("Failed to delete output directory", "dir", report.OutputDir, "error", err)
		} else {
			s.logger.Info("Deleted output directory", "dir", report.OutputDir)
		}
	}

	return report, nil
}
