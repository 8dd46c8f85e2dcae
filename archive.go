package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

const (
	// File permissions for the finished archive.
	archiveFilePermissions = 0644
)

var (
	ErrArchiveEmpty = errors.New("source directory is empty")
)

// BuildArchive compresses every file under sourceDir into a zip archive at
// archivePath.  Entry names are slash-separated paths relative to sourceDir.
// An empty sourceDir is refused, and the archive is assembled under a
// temporary name and renamed into place, so no empty or partial archive is
// ever left at archivePath.  Source files are not removed.
//
// Parameters:
//   - logger: Logger instance
//   - fs: Filesystem holding both sourceDir and archivePath
//   - sourceDir: Directory to compress
//   - archivePath: Where the zip file goes
//
// Returns:
//   - error: nil on success; otherwise wraps ErrArchive
func BuildArchive(logger *slog.Logger, fs afero.Fs, sourceDir string, archivePath string) error {
	empty, err := afero.IsEmpty(fs, sourceDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchive, err)
	}
	if empty {
		logger.Error("Cannot create archive from an empty directory", "dir", sourceDir)
		return fmt.Errorf("%w: %w: %s", ErrArchive, ErrArchiveEmpty, sourceDir)
	}

	tempPath := fmt.Sprintf("%s.%s.tmp", archivePath, uuid.NewString())
	entries, err := writeArchive(fs, sourceDir, tempPath)
	if err != nil {
		_ = fs.Remove(tempPath)
		return fmt.Errorf("%w: %w", ErrArchive, err)
	}

	err = fs.Rename(tempPath, archivePath)
	if err != nil {
		_ = fs.Remove(tempPath)
		return fmt.Errorf("%w: failed to finalize archive: %w", ErrArchive, err)
	}

	logger.Info("Created archive", "archive", archivePath, "entries", entries)
	return nil
}

// writeArchive writes the zip to path and returns the number of entries.
func writeArchive(fs afero.Fs, sourceDir string, path string) (int, error) {
	fh, err := fs.OpenFile(path, createExclusive, archiveFilePermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = fh.Close() }()

	zw := zip.NewWriter(fh)
	entries := 0
	err = afero.Walk(fs, sourceDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || filepath.Clean(filePath) == filepath.Clean(path) {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", filePath, err)
		}

		err = addArchiveEntry(fs, zw, filePath, filepath.ToSlash(rel), info)
		if err != nil {
			return err
		}
		entries++
		return nil
	})
	if err != nil {
		return 0, err
	}

	err = zw.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}

	err = fh.Sync()
	if err != nil {
		return 0, fmt.Errorf("failed to sync archive: %w", err)
	}
	return entries, nil
}

// addArchiveEntry deflates one file into zw under name.
func addArchiveEntry(fs afero.Fs, zw *zip.Writer, filePath string, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", filePath, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	src, err := fs.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer func() { _ = src.Close() }()

	_, err = io.Copy(w, src)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", filePath, err)
	}
	return nil
}
