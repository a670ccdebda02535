// Package finder maps namespaced class names to source files on disk.
//
// A ClassFinder is configured with namespace prefixes and the base
// directories holding them. Names are mapped to relative paths the PSR-0
// way: namespace separators become directory separators, underscores in the
// class part do too, and the extension is appended. "Foo\Bar_Baz" becomes
// "Foo/Bar/Baz.php".
package finder

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mirkobrombin/warp-resolver/v1/resolver"
)

const defaultExtension = ".php"

// ClassFinder resolves class names to existing files.
type ClassFinder struct {
	mu        sync.RWMutex
	prefixes  map[string][]string
	fallback  []string
	classMap  map[string]string
	extension string
	stat      func(string) (fs.FileInfo, error)
}

// Option configures a ClassFinder.
type Option func(*ClassFinder)

// WithExtension sets the file extension appended to mapped paths.
func WithExtension(ext string) Option {
	return func(f *ClassFinder) {
		f.extension = ext
	}
}

// New returns an empty ClassFinder.
func New(opts ...Option) *ClassFinder {
	f := &ClassFinder{
		prefixes:  make(map[string][]string),
		classMap:  make(map[string]string),
		extension: defaultExtension,
		stat:      os.Stat,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add registers dirs for the namespace prefix. An empty prefix adds
// fallback directories searched after every prefix.
func (f *ClassFinder) Add(prefix string, dirs ...string) {
	prefix = strings.TrimPrefix(prefix, `\`)
	f.mu.Lock()
	defer f.mu.Unlock()
	if prefix == "" {
		f.fallback = append(f.fallback, dirs...)
		return
	}
	f.prefixes[prefix] = append(f.prefixes[prefix], dirs...)
}

// AddClassMap registers explicit class to file mappings. They win over
// prefix lookups and are not checked for existence.
func (f *ClassFinder) AddClassMap(m map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for class, path := range m {
		f.classMap[strings.TrimPrefix(class, `\`)] = path
	}
}

// Prefixes returns a copy of the registered prefixes.
func (f *ClassFinder) Prefixes() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string, len(f.prefixes))
	for p, dirs := range f.prefixes {
		out[p] = append([]string(nil), dirs...)
	}
	return out
}

// FallbackDirs returns a copy of the fallback directories.
func (f *ClassFinder) FallbackDirs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.fallback...)
}

// Resolve implements resolver.Resolver. A name no directory holds resolves
// to resolver.Absent; errors other than a missing file are returned.
func (f *ClassFinder) Resolve(ctx context.Context, name string) (resolver.Location, error) {
	name = strings.TrimPrefix(name, `\`)
	f.mu.RLock()
	defer f.mu.RUnlock()

	if p, ok := f.classMap[name]; ok {
		return resolver.At(p), nil
	}
	rel := f.relativePath(name)

	// Longest prefix first so nested namespaces win over their parents.
	prefixes := make([]string, 0, len(f.prefixes))
	for p := range f.prefixes {
		if strings.HasPrefix(name, p) {
			prefixes = append(prefixes, p)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	for _, p := range prefixes {
		if loc, ok, err := f.search(ctx, f.prefixes[p], rel); err != nil || ok {
			return loc, err
		}
	}
	loc, _, err := f.search(ctx, f.fallback, rel)
	return loc, err
}

func (f *ClassFinder) search(ctx context.Context, dirs []string, rel string) (resolver.Location, bool, error) {
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return resolver.Absent, false, err
		}
		candidate := filepath.Join(dir, rel)
		info, err := f.stat(candidate)
		if err != nil {
			if stdErrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return resolver.Absent, false, fmt.Errorf("finder: stat %s: %w", candidate, err)
		}
		if info.Mode().IsRegular() {
			return resolver.At(candidate), true, nil
		}
	}
	return resolver.Absent, false, nil
}

func (f *ClassFinder) relativePath(name string) string {
	var ns, class string
	if i := strings.LastIndex(name, `\`); i >= 0 {
		ns = strings.ReplaceAll(name[:i+1], `\`, "/")
		class = name[i+1:]
	} else {
		class = name
	}
	return filepath.FromSlash(ns + strings.ReplaceAll(class, "_", "/") + f.extension)
}
