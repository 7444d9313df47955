package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrPathEmpty              = errors.New("the model path is empty")
	ErrPathInvalidCharacters  = errors.New("the model path contains invalid characters")
	ErrPathTraversal          = errors.New("the model path contains a traversal sequence")
	ErrPathNotAbsolute        = errors.New("the model path is not absolute")
	ErrPathBadExtension       = errors.New("the model file has a disallowed extension")
	ErrPathOutsideAllowedDirs = errors.New("the model path is outside of the allowed directories")
	ErrModelNotFound          = errors.New("the model file is not found")
)

type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid model path '%s': %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

type PathPolicy struct {
	AllowedDirs       []string `yaml:"allowed_dirs"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		AllowedExtensions: []string{".onnx", ".yaml", ".yml"},
	}
}

// ValidateModelPath checks the path against the policy. All the lexical
// checks happen before the file system is touched; the last check makes
// sure the file exists and does not escape the allowed directories via
// symlinks.
func ValidateModelPath(path string, policy PathPolicy) error {
	if err := validateModelPathLexically(path, policy); err != nil {
		return &PathError{Path: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &PathError{Path: path, Err: fmt.Errorf("%w: %w", ErrModelNotFound, err)}
	}
	if !info.Mode().IsRegular() {
		return &PathError{Path: path, Err: fmt.Errorf("%w: not a regular file", ErrModelNotFound)}
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return &PathError{Path: path, Err: fmt.Errorf("%w: %w", ErrModelNotFound, err)}
	}
	if !isWithinAnyDir(resolved, policy.AllowedDirs, true) {
		return &PathError{Path: path, Err: ErrPathOutsideAllowedDirs}
	}
	return nil
}

func validateModelPathLexically(path string, policy PathPolicy) error {
	if path == "" {
		return ErrPathEmpty
	}
	if strings.ContainsRune(path, 0) {
		return ErrPathInvalidCharacters
	}
	if slices.Contains(strings.FieldsFunc(path, isPathSeparator), "..") {
		return ErrPathTraversal
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.ContainsFunc(policy.AllowedExtensions, func(allowed string) bool {
		return strings.EqualFold(allowed, ext)
	}) {
		return ErrPathBadExtension
	}
	if !isWithinAnyDir(path, policy.AllowedDirs, false) {
		return ErrPathOutsideAllowedDirs
	}
	return nil
}

func isPathSeparator(r rune) bool {
	return r == '/' || r == filepath.Separator
}

func isWithinAnyDir(path string, dirs []string, resolveDirs bool) bool {
	path = filepath.Clean(path)
	for _, dir := range dirs {
		if !filepath.IsAbs(dir) {
			continue
		}
		dir = filepath.Clean(dir)
		if resolveDirs {
			if resolved, err := filepath.EvalSymlinks(dir); err == nil {
				dir = resolved
			}
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			continue
		}
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
