package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
)

// FileStore keeps lease attachments on local disk under root. A reference
// is the slash-separated path "<prefix>/<uuid>.<ext>" relative to root,
// where prefix is the lease's "<user>/<lease>".
type FileStore struct {
	root    string
	maxSize int64
	logger  *zap.Logger

	mu sync.Mutex
}

func NewFileStore(root string, maxSize int64, logger *zap.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve upload dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &FileStore{root: abs, maxSize: maxSize, logger: logger}, nil
}

// Save stores the upload and returns its reference. The type is sniffed
// from the content, the declared content type is not trusted.
func (s *FileStore) Save(prefix string, r io.Reader) (string, error) {
	return s.SaveCapped(prefix, r, 0)
}

// SaveCapped is Save that refuses the upload with ErrTooManyFiles once
// prefix already holds limit files. A limit of zero means no cap.
func (s *FileStore) SaveCapped(prefix string, r io.Reader, limit int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", errors.Wrap(err, "read upload")
	}
	if int64(len(data)) > s.maxSize {
		return "", ErrFileTooLarge
	}

	ext, ok := config.AllowedAttachmentTypes[mimetype.Detect(data).String()]
	if !ok {
		return "", ErrUnsupportedType
	}

	ref := fmt.Sprintf("%s/%s.%s", prefix, uuid.NewString(), ext)
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}

	// Counting and writing under one lock keeps concurrent uploads within the cap.
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > 0 {
		n, err := s.Count(prefix)
		if err != nil {
			return "", err
		}
		if n >= limit {
			return "", ErrTooManyFiles
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create lease dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write upload")
	}
	return ref, nil
}

// Owns reports whether ref is a file issued under the lease prefix.
func (s *FileStore) Owns(ref, prefix string) bool {
	name, ok := strings.CutPrefix(ref, prefix+"/")
	return ok && name != "" && !strings.Contains(name, "/")
}

// Exists reports whether the referenced file is present.
func (s *FileStore) Exists(ref string) bool {
	path, err := s.resolve(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Count reports how many files were saved under prefix.
func (s *FileStore) Count(prefix string) (int, error) {
	dir, err := s.resolve(prefix)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read lease dir")
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

// Open returns the referenced file for reading.
func (s *FileStore) Open(ref string) (*os.File, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open attachment")
	}
	return f, nil
}

// Discard deletes the referenced files and then any lease or user directory
// left empty. A reference naming a lease directory removes everything under
// it. Missing files are not an error.
func (s *FileStore) Discard(ctx context.Context, refs []string) error {
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.resolve(ref)
		if err != nil {
			s.logger.Warn("skip discard of invalid ref", zap.String("ref", ref))
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return errors.Wrapf(err, "remove %s", ref)
			}
		} else if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "remove %s", ref)
		}
		s.cleanupEmptyDirs(filepath.Dir(path))
	}
	return nil
}

func (s *FileStore) cleanupEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			// not empty
			return
		}
		dir = filepath.Dir(dir)
	}
}

// resolve maps ref to an absolute path and rejects anything escaping root.
func (s *FileStore) resolve(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "\\") || filepath.IsAbs(ref) {
		return "", ErrInvalidRef
	}
	path := filepath.Join(s.root, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidRef
	}
	return path, nil
}
