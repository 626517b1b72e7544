package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/afero"
)

// DiscoveryConfig contains the filters applied while walking a target
type DiscoveryConfig struct {
	Include          []string
	Exclude          []string
	IncludeTestFiles bool
	// MaxDepth limits how many directory levels below the root are entered.
	// Zero means unlimited.
	MaxDepth int
	// MaxFileSize skips files larger than this many bytes. Zero means no cap.
	MaxFileSize int64
}

// DiscoveryResult contains the files selected for scanning
type DiscoveryResult struct {
	Root    string            `json:"root"`
	Files   []models.FileMeta `json:"files"`
	Seen    int               `json:"seen"`
	Skipped int               `json:"skipped"`
	// Languages counts selected files per detected language.
	Languages map[string]int `json:"languages"`
}

// ConfigFromScan maps a scan config onto discovery filters.
func ConfigFromScan(cfg models.ScanConfig) DiscoveryConfig {
	return DiscoveryConfig{
		Include:          cfg.Include,
		Exclude:          cfg.Exclude,
		IncludeTestFiles: cfg.IncludeTestFiles,
		MaxDepth:         cfg.MaxDepth,
		MaxFileSize:      cfg.MaxFileSizeMB * 1024 * 1024,
	}
}

// RunDiscovery enumerates the files under root that pass cfg's filters.
// Files are returned sorted by relative path. Failure to stat or walk the
// root itself wraps models.ErrDiscoveryFailure; unreadable entries below the
// root are counted as skipped.
func RunDiscovery(ctx context.Context, fsys afero.Fs, root string, cfg DiscoveryConfig) (*DiscoveryResult, error) {
	root = filepath.Clean(root)
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read target %s: %v", models.ErrDiscoveryFailure, root, err)
	}

	result := &DiscoveryResult{
		Root:      root,
		Languages: make(map[string]int),
	}

	// Single-file target
	if !info.IsDir() {
		rel := filepath.ToSlash(filepath.Base(root))
		result.Seen = 1
		if keep(rel, info.Size(), cfg) {
			result.add(models.FileMeta{Path: rel, FullPath: root, Language: DetectLanguage(rel), Size: info.Size()})
		} else {
			result.Skipped++
		}
		return result, nil
	}

	walkErr := afero.Walk(fsys, root, func(path string, fi fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			result.Skipped++
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			result.Skipped++
			return nil
		}
		rel = filepath.ToSlash(rel)

		if fi.IsDir() {
			if rel == "." {
				return nil
			}
			if cfg.MaxDepth > 0 && depth(rel) > cfg.MaxDepth {
				return filepath.SkipDir
			}
			if matchesAny(cfg.Exclude, rel) {
				return filepath.SkipDir
			}
			if !cfg.IncludeTestFiles && isTestDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		result.Seen++
		if !keep(rel, fi.Size(), cfg) {
			result.Skipped++
			return nil
		}

		result.add(models.FileMeta{
			Path:     rel,
			FullPath: path,
			Language: DetectLanguage(rel),
			Size:     fi.Size(),
		})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: walking %s: %v", models.ErrDiscoveryFailure, root, walkErr)
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})

	return result, nil
}

func (r *DiscoveryResult) add(f models.FileMeta) {
	r.Files = append(r.Files, f)
	r.Languages[f.Language]++
}

// keep applies the file-level filters.
func keep(rel string, size int64, cfg DiscoveryConfig) bool {
	if matchesAny(cfg.Exclude, rel) {
		return false
	}
	if len(cfg.Include) > 0 && !matchesAny(cfg.Include, rel) {
		return false
	}
	if !cfg.IncludeTestFiles && IsTestPath(rel) {
		return false
	}
	if cfg.MaxFileSize > 0 && size > cfg.MaxFileSize {
		return false
	}
	return true
}

// depth counts the path segments of a slash-separated relative path.
func depth(rel string) int {
	return strings.Count(rel, "/") + 1
}
