package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultImageExts: разрешённые расширения, если конфиг их не задаёт.
var DefaultImageExts = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}

// FileSource: загруженный файл, каким его видит сохранение записи.
type FileSource interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

type headerSource struct{ h *multipart.FileHeader }

func (s headerSource) Filename() string { return s.h.Filename }

func (s headerSource) Open() (io.ReadCloser, error) { return s.h.Open() }

// FromHeader оборачивает файл из multipart-формы.
func FromHeader(h *multipart.FileHeader) FileSource { return headerSource{h} }

type bytesSource struct {
	name string
	data []byte
}

func (s bytesSource) Filename() string { return s.name }

func (s bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// Bytes: файл из памяти (тесты, импорт).
func Bytes(name string, data []byte) FileSource { return bytesSource{name, data} }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Uploader сохраняет файлы полей записи под детерминированным именем
// table_id.ext; повторная загрузка перезаписывает файл.
type Uploader struct {
	Store   BlobStore
	allowed map[string]struct{}
	log     *slog.Logger
}

func NewUploader(s BlobStore, exts []string, log *slog.Logger) *Uploader {
	if len(exts) == 0 {
		exts = DefaultImageExts
	}
	u := &Uploader{Store: s, allowed: make(map[string]struct{}, len(exts)), log: log}
	for _, e := range exts {
		u.allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return u
}

// Allowed: пропускается ли расширение файла.
func (u *Uploader) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	_, ok := u.allowed[ext]
	return ext != "" && ok
}

// FileName: имя, под которым файл записи хранится.
func FileName(table, id, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return unsafeChars.ReplaceAllString(fmt.Sprintf("%s_%s%s", table, id, ext), "_")
}

// Save возвращает сохранённое имя. Неразрешённое расширение не ошибка:
// возвращается "" и поле записи не трогается.
func (u *Uploader) Save(ctx context.Context, f FileSource, table, id string) (string, error) {
	if f == nil || f.Filename() == "" {
		return "", nil
	}
	if !u.Allowed(f.Filename()) {
		if u.log != nil {
			u.log.DebugContext(ctx, "upload rejected", "file", f.Filename(), "table", table)
		}
		return "", nil
	}
	name := FileName(table, id, f.Filename())
	r, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer r.Close()
	if _, _, err := u.Store.Put(name, r); err != nil {
		return "", fmt.Errorf("store upload %s: %w", name, err)
	}
	return name, nil
}
