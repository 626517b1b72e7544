package discovery

import (
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var languageByExt = map[string]string{
	"js":   "javascript",
	"jsx":  "javascript",
	"mjs":  "javascript",
	"cjs":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"py":   "python",
	"java": "java",
	"php":  "php",
	"cs":   "csharp",
	"go":   "go",
	"rb":   "ruby",
	"html": "html",
	"htm":  "html",
	"css":  "css",
	"json": "json",
}

// DetectLanguage maps a file name to a language id by extension.
// Unknown extensions yield "unknown".
func DetectLanguage(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "unknown"
}

// Languages returns every language id DetectLanguage can produce, sorted.
func Languages() []string {
	seen := make(map[string]bool, len(languageByExt))
	var out []string
	for _, lang := range languageByExt {
		if !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	sort.Strings(out)
	return out
}

var testDirNames = map[string]bool{
	"test":      true,
	"tests":     true,
	"__tests__": true,
	"spec":      true,
	"specs":     true,
	"testdata":  true,
}

// IsTestPath reports whether a slash-separated relative path looks like test
// code: a file inside a test directory, or a file named like
// foo_test.go, foo.test.js, foo.spec.ts or test_foo.py.
func IsTestPath(rel string) bool {
	dir, base := path.Split(rel)
	if dir != "" && isTestDir(strings.TrimSuffix(dir, "/")) {
		return true
	}
	name := strings.ToLower(base)
	stem := strings.TrimSuffix(name, path.Ext(name))
	switch {
	case strings.HasSuffix(stem, "_test"),
		strings.HasSuffix(stem, ".test"),
		strings.HasSuffix(stem, ".spec"),
		strings.HasPrefix(stem, "test_"):
		return true
	}
	return false
}

// isTestDir reports whether any segment of a directory path is a test dir.
func isTestDir(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if testDirNames[strings.ToLower(seg)] {
			return true
		}
	}
	return false
}

// matchesAny reports whether rel matches one of the patterns.
//
//   - A pattern without glob characters matches when it equals a path
//     segment or a slash-delimited run of segments ("node_modules",
//     "src/vendor").
//   - A glob pattern containing "/" must match the whole relative path;
//     "**" spans directories.
//   - A glob pattern without "/" is tried against every segment, so "*.min.js"
//     excludes minified files at any depth.
func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, rel string) bool {
	pattern = strings.Trim(strings.TrimSpace(pattern), "/")
	if pattern == "" {
		return false
	}

	if !strings.ContainsAny(pattern, "*?[") {
		wrapped := "/" + rel + "/"
		return strings.Contains(wrapped, "/"+pattern+"/")
	}

	if strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, rel)
		return ok
	}

	for _, seg := range strings.Split(rel, "/") {
		if ok, _ := doublestar.Match(pattern, seg); ok {
			return true
		}
	}
	return false
}
