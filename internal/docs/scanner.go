package docs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"
)

// Directories never descended into.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	".devscontext": {},
}

// Scanner walks documentation roots and returns parsed sections.
type Scanner struct {
	roots  []string
	cache  *ParseCache
	logger *zap.Logger
}

// NewScanner creates a scanner over roots. A nil cache disables memoization.
func NewScanner(roots []string, cache *ParseCache, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewParseCache()
	}
	return &Scanner{roots: roots, cache: cache, logger: logger}
}

// Roots returns the configured roots.
func (s *Scanner) Roots() []string { return s.roots }

// Cache returns the parse cache shared by the scanner.
func (s *Scanner) Cache() *ParseCache { return s.cache }

// Files lists documentation files under every existing root, in walk
// order. Missing roots are skipped silently. A root may name a file.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}

	for _, root := range s.roots {
		info, err := os.Stat(root)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("cannot access docs root", zap.String("path", root), zap.Error(err))
			}
			continue
		}
		if !info.IsDir() {
			if isDocFile(info.Name()) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				s.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if _, skip := skipDirs[d.Name()]; skip && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if isDocFile(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return files, err
		}
	}
	return files, nil
}

// Scan parses every documentation file and returns all sections in file
// order. Unreadable and oversized files are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) ([]model.DocumentSection, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}

	var sections []model.DocumentSection
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := s.cache.Get(path)
		if err != nil {
			s.logger.Warn("skipping documentation file", zap.String("path", path), zap.Error(err))
			continue
		}
		sections = append(sections, doc.Sections...)
	}
	s.logger.Debug("scanned documentation",
		zap.Int("files", len(files)),
		zap.Int("sections", len(sections)))
	return sections, nil
}
