package main_test

// SPDX-License-Identifier: GPL-3.0-only

import (
	main "coursegrab"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"gotest.tools/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Lecture 1.pdf", "Lecture 1.pdf"},
		{"every invalid character", `a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"trims whitespace", "  Week 2: Slides \t\n", "Week 2_ Slides"},
		{"path traversal", "../../etc/passwd", ".._.._etc_passwd"},
		{"empty", "", ""},
		{"unicode kept", "Matemātika ✓", "Matemātika ✓"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, main.Sanitize(tt.in), tt.want)
		})
	}

	t.Run("never returns an invalid character", func(t *testing.T) {
		var all strings.Builder
		for r := rune(0); r < 256; r++ {
			all.WriteRune(r)
		}
		inputs := []string{all.String(), `<<>>::""//\\||??**`, "name/with/slashes", `C:\Users\x`}
		for _, in := range inputs {
			got := main.Sanitize(in)
			assert.Assert(t, !strings.ContainsAny(got, `<>:"/\|?*`), "got %q", got)
		}
	})
}

func TestResolveExtension(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		uri         string
		want        string
	}{
		{"header wins over URL",
			`attachment; filename="slides.pptx"`, "https://portal/pluginfile.php/1/file.pdf", ".pptx"},
		{"URL-encoded header filename",
			`inline; filename="Lekcija%201.docx"`, "https://portal/x", ".docx"},
		{"RFC 2231 filename",
			`attachment; filename*=UTF-8''notes%20v2.odt`, "https://portal/x", ".odt"},
		{"malformed header still matched",
			`attachment; filename="report.xlsx"; broken=`, "https://portal/x", ".xlsx"},
		{"header without extension falls back to URL",
			`attachment; filename="README"`, "https://portal/pluginfile.php/1/data.csv", ".csv"},
		{"URL path only, query ignored",
			"", "https://portal/pluginfile.php/1/lab.zip?forcedownload=1", ".zip"},
		{"nothing", "", "https://portal/pluginfile.php/1/file", ".bin"},
		{"nothing at all", "", "", ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.disposition != "" {
				header.Set("Content-Disposition", tt.disposition)
			}
			assert.Equal(t, main.ResolveExtension(header, tt.uri), tt.want)
		})
	}
}

func TestUniquePath(t *testing.T) {
	touch := func(t *testing.T, fs afero.Fs, path string) {
		t.Helper()
		err := afero.WriteFile(fs, path, []byte("x"), 0644)
		assert.NilError(t, err)
	}

	t.Run("unused path is returned unchanged", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		assert.Equal(t, main.UniquePath(fs, "/out/notes.pdf"), "/out/notes.pdf")
	})

	t.Run("suffix goes before the extension", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, "/out/notes.pdf")
		assert.Equal(t, main.UniquePath(fs, "/out/notes.pdf"), "/out/notes_1.pdf")

		touch(t, fs, "/out/notes_1.pdf")
		assert.Equal(t, main.UniquePath(fs, "/out/notes.pdf"), "/out/notes_2.pdf")
	})

	t.Run("idempotent while nothing is created", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, "/out/notes.pdf")
		once := main.UniquePath(fs, "/out/notes.pdf")
		assert.Equal(t, main.UniquePath(fs, once), once)
	})

	t.Run("never collides with an existing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			p := main.UniquePath(fs, "/out/a.txt")
			assert.Assert(t, !seen[p], "duplicate %s", p)
			seen[p] = true
			touch(t, fs, p)
		}
	})

	t.Run("no extension", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, "/out/Makefile")
		assert.Equal(t, main.UniquePath(fs, "/out/Makefile"), "/out/Makefile_1")
	})

	t.Run("dotfile", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, "/out/.env")
		assert.Equal(t, main.UniquePath(fs, "/out/.env"), "/out/.env_1")
	})

	t.Run("existing directory counts", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		err := fs.MkdirAll("/out/Courses_Data.zip", 0755)
		assert.NilError(t, err)
		assert.Equal(t, main.UniquePath(fs, "/out/Courses_Data.zip"), "/out/Courses_Data_1.zip")
	})
}

func TestUniqueDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	assert.Equal(t, main.UniqueDir(fs, "/MoodleDownloads"), "/MoodleDownloads")

	err := fs.MkdirAll("/MoodleDownloads", 0755)
	assert.NilError(t, err)
	assert.Equal(t, main.UniqueDir(fs, "/MoodleDownloads"), "/MoodleDownloads_1")

	err = fs.MkdirAll("/MoodleDownloads_1", 0755)
	assert.NilError(t, err)
	assert.Equal(t, main.UniqueDir(fs, "/MoodleDownloads"), "/MoodleDownloads_2")

	t.Run("dots are not extensions", func(t *testing.T) {
		err := fs.MkdirAll("/v1.2", 0755)
		assert.NilError(t, err)
		assert.Equal(t, main.UniqueDir(fs, "/v1.2"), "/v1.2_1")
	})
}
