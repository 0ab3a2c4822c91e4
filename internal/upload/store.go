// Package upload stores message attachments on local disk.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("attachment too large")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	newID    func() string
}

func NewStore(dir string, maxBytes int64) *Store {
	return &Store{dir: dir, maxBytes: maxBytes, now: time.Now, newID: shortID}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SanitizeName reduces a client file name to a safe base name.
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "_" {
		return "file"
	}
	return base
}

// Save writes r under "<unix seconds>_<random id>_<sanitized name>" and
// returns the absolute path. An existing file is never overwritten, and
// nothing is left on disk when the write fails.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}

	file := fmt.Sprintf("%d_%s_%s", s.now().Unix(), s.newID(), SanitizeName(name))
	path, err := filepath.Abs(filepath.Join(s.dir, file))
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", errors.Wrap(err, "create attachment")
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = errors.Wrapf(ErrTooLarge, "limit is %d bytes", s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a saved attachment. Missing files are ignored.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
