// Package blob: файловое хранилище загрузок.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadKey = errors.New("blob: invalid key")

type BlobStore interface {
	Put(key string, r io.Reader) (int64, string, error) // size, sha256
	Delete(key string) error
	Path(key string) (string, error) // local path (для local)
}

type LocalBlobStore struct {
	Root string // например, "./uploads"
}

func (s *LocalBlobStore) ensureDir(p string) error {
	return os.MkdirAll(p, 0o755)
}

// Put пишет файл под ключом, перезаписывая существующий.
func (s *LocalBlobStore) Put(key string, r io.Reader) (int64, string, error) {
	full, err := s.Path(key)
	if err != nil {
		return 0, "", err
	}
	if err := s.ensureDir(filepath.Dir(full)); err != nil {
		return 0, "", err
	}
	// пишем во временный файл и переименовываем: читатель не увидит половину
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalBlobStore) Delete(key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Path не выпускает ключ за пределы Root.
func (s *LocalBlobStore) Path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) || strings.Contains(key, "..") {
		return "", ErrBadKey
	}
	return filepath.Join(s.Root, clean), nil
}
