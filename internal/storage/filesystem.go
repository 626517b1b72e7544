package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hakim/seceval/internal/models"
	"github.com/spf13/afero"
)

const resultFileName = "result.json"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]+`)

// SanitizeName replaces characters unsafe for filesystem paths
// Allows alphanumeric, dots, and hyphens. Replaces everything else with underscore.
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ScanDirPath generates a consistent directory path for a scan result
// Format: {baseDir}/{project}_{YYYYMMDD}_{HHMMSS}
func ScanDirPath(baseDir string, project string, startedAt time.Time) string {
	sanitized := SanitizeName(project)
	timestamp := startedAt.Format("20060102_150405")
	dirName := fmt.Sprintf("%s_%s", sanitized, timestamp)
	return filepath.Join(baseDir, dirName)
}

// Artifacts writes scan results as JSON files under a base directory.
type Artifacts struct {
	fs      afero.Fs
	baseDir string
}

// NewArtifacts creates an artifact writer rooted at baseDir on fs.
func NewArtifacts(fs afero.Fs, baseDir string) *Artifacts {
	return &Artifacts{fs: fs, baseDir: baseDir}
}

// WriteResult stores res as {scanDir}/result.json and returns the file path.
// Two results for the same project in the same second get distinct
// directories by suffixing the scan id prefix.
func (a *Artifacts) WriteResult(res *models.ScanResult) (string, error) {
	dir := ScanDirPath(a.baseDir, models.ProjectName(res.ProjectPath), res.StartedAt)
	if exists, _ := afero.DirExists(a.fs, dir); exists {
		id := res.ScanID
		if len(id) > 8 {
			id = id[:8]
		}
		dir = dir + "_" + id
	}
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("storage: creating result directory: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: encoding result: %w", err)
	}
	path := filepath.Join(dir, resultFileName)
	if err := afero.WriteFile(a.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("storage: writing %s: %w", path, err)
	}
	return path, nil
}

// ReadResult loads a result artifact.
func (a *Artifacts) ReadResult(path string) (*models.ScanResult, error) {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: artifact %s: %w", path, models.ErrNotFound)
		}
		return nil, err
	}
	var res models.ScanResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("storage: decoding %s: %w", path, err)
	}
	return &res, nil
}

// Remove deletes the artifact and its scan directory. A missing artifact is
// not an error.
func (a *Artifacts) Remove(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if filepath.Base(path) != resultFileName || dir == filepath.Clean(a.baseDir) {
		if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return a.fs.RemoveAll(dir)
}
