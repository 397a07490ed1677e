package harvest

import (
	"path"
	"strings"
)

// Files matching these suffixes are kept regardless of size.
var priorityManifests = []string{
	"package.json",
	"cargo.toml",
	"requirements.txt",
	"go.mod",
	"readme.md",
}

var excludedExtensions = toSet(
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp", ".svg", ".tiff",
	".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".a", ".class", ".pyc", ".wasm",
	".zip", ".tar", ".gz", ".tgz", ".7z", ".rar", ".jar", ".war",
	".pdf", ".woff", ".woff2", ".ttf", ".otf", ".eot",
	".mp3", ".mp4", ".mov", ".avi",
	".lock",
)

var excludedNames = toSet(
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"cargo.lock",
	"go.sum",
	"poetry.lock",
	"composer.lock",
	"gemfile.lock",
	".ds_store",
)

var excludedDirs = []string{"dist", "build", "node_modules"}

// Select filters a recursive tree listing down to the files worth sending to
// the model. Order is preserved and at most maxFiles entries are returned.
func Select(entries []Candidate, maxFiles, maxFileSize int) []Candidate {
	if maxFiles <= 0 {
		return nil
	}
	out := make([]Candidate, 0, min(len(entries), maxFiles))
	for _, e := range entries {
		if len(out) == maxFiles {
			break
		}
		if e.Type != "blob" {
			continue
		}
		name := strings.ToLower(e.Path)
		if excluded(name) {
			continue
		}
		if isPriority(name) || e.Size < maxFileSize {
			out = append(out, e)
		}
	}
	return out
}

func excluded(name string) bool {
	base := path.Base(name)
	if _, ok := excludedNames[base]; ok {
		return true
	}
	if _, ok := excludedExtensions[path.Ext(base)]; ok {
		return true
	}
	if strings.HasSuffix(base, "-lock.json") || strings.HasSuffix(base, "-lock.yaml") {
		return true
	}
	for _, dir := range excludedDirs {
		if strings.HasPrefix(name, dir+"/") || strings.Contains(name, "/"+dir+"/") {
			return true
		}
	}
	return false
}

func isPriority(name string) bool {
	for _, m := range priorityManifests {
		if strings.HasSuffix(name, m) {
			return true
		}
	}
	return false
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
