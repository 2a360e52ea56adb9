package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains NUL byte")
	}

	// Traversal is checked on the raw segments so "a/../../b" is rejected even
	// though Clean would fold part of it away
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateFilePathWithBase validates a file path against a base directory
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	fullPath := filepath.Join(baseDir, path)
	cleanPath := filepath.Clean(fullPath)
	cleanBase := filepath.Clean(baseDir)

	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}

// ValidateAssetPath checks an app shell manifest entry. Entries are
// origin-relative URL paths such as "/index.html".
func ValidateAssetPath(asset string) error {
	if asset == "" {
		return fmt.Errorf("asset path cannot be empty")
	}
	if !strings.HasPrefix(asset, "/") || strings.HasPrefix(asset, "//") {
		return fmt.Errorf("asset path must be origin-relative: %s", asset)
	}

	u, err := url.Parse(asset)
	if err != nil {
		return fmt.Errorf("invalid asset path %s: %w", asset, err)
	}
	if u.Scheme != "" || u.Host != "" {
		return fmt.Errorf("asset path must be origin-relative: %s", asset)
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == ".." {
			return fmt.Errorf("asset path contains directory traversal: %s", asset)
		}
	}
	return nil
}
