// Package bootstrap prepares the on-disk layout the sidecar expects before it
// is first spawned: a handful of directories and JSON seed files under one
// root. Every item is attempted independently; failures are logged and
// reported but never returned as an error, so startup always proceeds.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hasbase/hasbase-core/logger"
)

// Seed is a JSON file created with an empty object under Key when absent.
type Seed struct {
	Name string
	Key  string
}

// Body returns the initial file content, e.g. {"chats":{}}. A seed without a
// key starts as an empty object.
func (s Seed) Body() []byte {
	if s.Key == "" {
		return []byte("{}")
	}
	body, err := sjson.SetRawBytes([]byte("{}"), s.Key, []byte("{}"))
	if err != nil {
		return []byte("{}")
	}
	return body
}

// Layout is the set of directories and seed files to ensure under a root.
type Layout struct {
	Dirs  []string
	Seeds []Seed
}

// DefaultLayout returns the layout the sidecar worker reads at startup.
func DefaultLayout() Layout {
	return Layout{
		Dirs: []string{"vector_db", "uploads"},
		Seeds: []Seed{
			{Name: "chatDB.json", Key: "chats"},
			{Name: "userDB.json", Key: "users"},
			{Name: "documentDB.json", Key: "documents"},
		},
	}
}

// ItemError records a layout item that could not be ensured.
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// Report lists what Run did with each item, by absolute path.
type Report struct {
	Root     string
	Created  []string
	Existing []string
	Failed   []ItemError

	// Invalid lists existing seed files that are not valid JSON. They are
	// counted in Existing too and left untouched.
	Invalid []string
}

// OK reports whether every item is in place.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Run ensures layout under root on fs. Existing files are never rewritten.
func Run(fs afero.Fs, root string, layout Layout) Report {
	log := logger.WithComponent("bootstrap").With("root", root)
	report := Report{Root: root}

	ensureDir(fs, root, &report)
	for _, dir := range layout.Dirs {
		ensureDir(fs, filepath.Join(root, dir), &report)
	}
	for _, seed := range layout.Seeds {
		ensureSeed(fs, filepath.Join(root, seed.Name), seed, &report)
	}

	if report.OK() {
		log.Info("bootstrap complete", "created", len(report.Created), "existing", len(report.Existing))
	} else {
		log.Warn("bootstrap finished with failures", "failed", len(report.Failed), "created", len(report.Created))
	}
	return report
}

func ensureDir(fs afero.Fs, path string, report *Report) {
	log := logger.WithComponent("bootstrap")

	exists, err := afero.DirExists(fs, path)
	if err == nil && exists {
		log.Debug("directory already exists", "path", path)
		report.Existing = append(report.Existing, path)
		return
	}

	if err := fs.MkdirAll(path, 0755); err != nil {
		log.Error("failed to create directory", "path", path, "error", err)
		report.Failed = append(report.Failed, ItemError{Path: path, Err: err})
		return
	}
	log.Info("created directory", "path", path)
	report.Created = append(report.Created, path)
}

func ensureSeed(fs afero.Fs, path string, seed Seed, report *Report) {
	log := logger.WithComponent("bootstrap")

	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		report.Existing = append(report.Existing, path)
		if !checkSeed(fs, path, log.With("path", path)) {
			report.Invalid = append(report.Invalid, path)
		}
		return
	}
	if err != nil {
		log.Error("failed to create seed file", "path", path, "error", err)
		report.Failed = append(report.Failed, ItemError{Path: path, Err: err})
		return
	}

	_, err = f.Write(seed.Body())
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		log.Error("failed to write seed file", "path", path, "error", err)
		// Drop the partial file so the next run creates it again
		_ = fs.Remove(path)
		report.Failed = append(report.Failed, ItemError{Path: path, Err: err})
		return
	}
	log.Info("created seed file", "path", path)
	report.Created = append(report.Created, path)
}

// checkSeed warns about an existing seed that is not valid JSON and reports
// whether it is valid. An unreadable file is only logged.
func checkSeed(fs afero.Fs, path string, log *slog.Logger) bool {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		log.Warn("existing seed file is unreadable", "error", err)
		return true
	}
	if !gjson.ValidBytes(data) {
		log.Warn("existing seed file is not valid JSON")
		return false
	}
	return true
}
