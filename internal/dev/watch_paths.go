package dev

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oreillyross/next.js/internal/config"
)

// routeDirs hold pages and app routes, relative to the project dir.
var routeDirs = []string{"pages", "src/pages", "app", "src/app"}

// CollectWatchPaths returns the directories watched recursively and the
// directories watched flat for the project.
func CollectWatchPaths(cfg *config.Config) (paths, flat []string) {
	projectDir := cfg.Dir()
	for _, dir := range routeDirs {
		paths = append(paths, filepath.Join(projectDir, filepath.FromSlash(dir)))
	}
	paths = append(paths,
		filepath.Join(projectDir, "public"),
		filepath.Join(projectDir, "static"),
	)

	flat = []string{projectDir}
	if script := cfg.Middleware.Script; script != "" {
		flat = append(flat, filepath.Dir(resolvePath(projectDir, script)))
	}
	return unique(paths), unique(flat)
}

// Classifier returns a Classify function for the project.
func Classifier(cfg *config.Config) func(string) ChangeType {
	projectDir := filepath.Clean(cfg.Dir())
	script := ""
	if cfg.Middleware.Script != "" {
		script = resolvePath(projectDir, cfg.Middleware.Script)
	}

	return func(p string) ChangeType {
		if script != "" && isSamePath(p, script) {
			return ChangeMiddleware
		}
		if isSamePath(filepath.Dir(p), projectDir) && strings.HasPrefix(filepath.Base(p), config.ConfigName+".") {
			return ChangeConfig
		}
		for _, dir := range routeDirs {
			if isWithinDir(p, filepath.Join(projectDir, filepath.FromSlash(dir))) {
				return ChangeRoutes
			}
		}
		return ChangeAsset
	}
}

func unique(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		clean := filepath.Clean(path)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

func resolvePath(projectDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectDir, path)
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	absDir = filepath.Clean(absDir)
	if absPath == absDir {
		return true
	}
	if !strings.HasSuffix(absDir, string(os.PathSeparator)) {
		absDir += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, absDir)
}

func isSamePath(a, b string) bool {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false
	}
	return filepath.Clean(absA) == filepath.Clean(absB)
}
