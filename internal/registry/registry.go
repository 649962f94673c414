// Package registry loads the set of known identities from a directory of
// reference photos, one person per file, named after the file stem.
package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/gatekeeper/internal/attempt"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Registry is the immutable list of known identities. Safe for concurrent reads.
type Registry struct {
	entries []types.Identity
	skipped []string
}

// Options tune Load. The zero value logs no progress bar.
type Options struct {
	// Progress receives a progress bar when non-nil (usually os.Stderr).
	Progress io.Writer
}

// Load reads every reference photo in dir, in filename order, and asks the
// extractor for its face. Photos without a face are skipped with a warning;
// photos with several faces use the first one. An extractor failure aborts
// the load.
func Load(ctx context.Context, dir string, ext attempt.Extractor, opts Options) (*Registry, error) {
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"component": "registry", "dir": dir})
	logger.WithField("photos", len(files)).Info("📁 Loading registry")

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("📁 Loading registry"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	r := &Registry{}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := r.add(ctx, path, ext, logger); err != nil {
			return nil, err
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	logger.WithFields(log.Fields{"identities": r.Names(), "skipped": len(r.skipped)}).
		Info("✅ Registry loaded")
	return r, nil
}

func (r *Registry) add(ctx context.Context, path string, ext attempt.Extractor, logger *log.Entry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read reference photo %s: %w", path, err)
	}

	res, err := ext.Extract(ctx, types.Image{Path: path, Data: data})
	if err != nil {
		return fmt.Errorf("failed to extract reference photo %s: %w", path, err)
	}

	name := IdentityName(path)
	logger = logger.WithFields(log.Fields{"file": filepath.Base(path), "identity": name})

	switch {
	case len(res.Faces) == 0:
		logger.Warn("⚠️  No face found in reference photo, skipping")
		r.skipped = append(r.skipped, path)
		return nil
	case len(res.Faces) > 1:
		logger.WithField("faces", len(res.Faces)).Warn("⚠️  Several faces in reference photo, using the first")
	}

	r.entries = append(r.entries, types.Identity{Name: name, Vec: res.Faces[0].Vec, Source: path})
	return nil
}

// listImages returns image file names in dir, sorted.
func listImages(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry directory: %w", err)
	}

	var files []string
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// IdentityName is the file stem, NFC-normalized so names typed on different
// systems compare equal.
func IdentityName(path string) string {
	base := filepath.Base(path)
	return norm.NFC.String(strings.TrimSuffix(base, filepath.Ext(base)))
}

// FromEntries builds a registry directly, mainly for tests and tools.
func FromEntries(entries []types.Identity) *Registry {
	return &Registry{entries: append([]types.Identity(nil), entries...)}
}

// Entries returns a copy of the identities in load order.
func (r *Registry) Entries() []types.Identity {
	return append([]types.Identity(nil), r.entries...)
}

// Names lists identity names in load order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Skipped lists reference photos that yielded no face.
func (r *Registry) Skipped() []string {
	return append([]string(nil), r.skipped...)
}

func (r *Registry) Len() int { return len(r.entries) }
