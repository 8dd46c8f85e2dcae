package main

// SPDX-License-Identifier: GPL-3.0-only

import "errors"

// Error kinds.  Every error the pipeline produces wraps exactly one of these,
// so the driver can decide between "log and continue" and "abort the run"
// with errors.Is.
var (
	// ErrAuth is fatal to the run unless the caller retries with new
	// credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrCourse skips a single course.
	ErrCourse = errors.New("course failed")

	// ErrResource skips a single link or embedded asset.
	ErrResource = errors.New("resource failed")

	// ErrArchive fails the archive step.  Downloads stay on disk.
	ErrArchive = errors.New("archive failed")
)
