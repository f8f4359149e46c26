// Package upload validates, stores and prunes uploaded CSV files.
package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/logger"
)

var (
	ErrNoFile              = failure.Newf(failure.KindValue, "upload", "no file was selected")
	ErrEmptyFilename       = failure.Newf(failure.KindValue, "upload", "file name is empty")
	ErrExtensionNotAllowed = failure.Newf(failure.KindValue, "upload", "file type is not allowed")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

type Store struct {
	dir     string
	keep    int
	allowed []string
}

func NewStore(dir string, keep int, allowed []string) *Store {
	if keep < 1 {
		keep = 10
	}
	if len(allowed) == 0 {
		allowed = []string{"csv"}
	}
	normalized := make([]string, len(allowed))
	for i, ext := range allowed {
		normalized[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return &Store{dir: dir, keep: keep, allowed: normalized}
}

func (s *Store) Dir() string {
	return s.dir
}

// Allowed reports whether name carries one of the allowed extensions,
// compared case-insensitively.
func (s *Store) Allowed(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	ext := strings.ToLower(name[i+1:])
	for _, a := range s.allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func (s *Store) Validate(fh *multipart.FileHeader) error {
	if fh == nil {
		return ErrNoFile
	}
	if fh.Filename == "" {
		return ErrEmptyFilename
	}
	if !s.Allowed(fh.Filename) {
		return fmt.Errorf("%w: allowed: %s", ErrExtensionNotAllowed, strings.Join(s.allowed, ", "))
	}
	return nil
}

// SecureFilename reduces name to a flat ASCII file name: NFKD folded,
// non-ASCII dropped, path separators and whitespace runs turned into "_",
// anything outside [A-Za-z0-9_.-] removed and leading or trailing "." and "_"
// trimmed. The result may be empty.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	name = b.String()
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// storedName prefixes the sanitized name with a random id so concurrent
// uploads of the same file name never share a path. Names that lose their
// stem or extension to sanitizing keep only the id and the extension.
func (s *Store) storedName(original string) string {
	id := uuid.New().String()
	safe := SecureFilename(original)
	if s.Allowed(safe) && strings.TrimSuffix(safe, filepath.Ext(safe)) != "" {
		return id + "_" + safe
	}
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = "." + s.allowed[0]
	}
	return id + ext
}

// Save writes r under the upload directory and returns the stored path.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", failure.New(failure.KindIO, "save upload", err)
	}

	path := filepath.Join(s.dir, s.storedName(originalName))
	f, err := os.Create(path)
	if err != nil {
		return "", failure.New(failure.KindIO, "save upload", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", failure.New(failure.KindIO, "save upload", err)
	}
	if err := f.Close(); err != nil {
		return "", failure.New(failure.KindIO, "save upload", err)
	}

	logger.Info("Upload saved", zap.String("path", path), zap.String("original", originalName))
	return path, nil
}

func (s *Store) SaveMultipart(fh *multipart.FileHeader) (string, error) {
	if err := s.Validate(fh); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", failure.New(failure.KindIO, "open upload", err)
	}
	defer src.Close()
	return s.Save(fh.Filename, src)
}

// Cleanup keeps the newest files by modification time and removes the rest.
// A failed removal is logged and skipped.
func (s *Store) Cleanup() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, failure.New(failure.KindIO, "cleanup uploads", err)
	}

	type stored struct {
		path  string
		mtime int64
	}
	var files []stored
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, stored{path: filepath.Join(s.dir, e.Name()), mtime: info.ModTime().UnixNano()})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })

	removed := 0
	for i := s.keep; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			logger.Warn("Failed to remove old upload", zap.String("path", files[i].path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("Old uploads removed", zap.Int("removed", removed), zap.Int("kept", s.keep))
	}
	return removed, nil
}
