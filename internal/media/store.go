package media

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"messenger/internal/models"
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("no file uploaded")
)

var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/jpg":          true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"video/mp4":          true,
	"video/quicktime":    true,
	"video/x-msvideo":    true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
}

// Allowed reports whether files of mimeType may be stored. Any audio type is
// accepted for voice notes.
func Allowed(mimeType string) bool {
	return allowedTypes[mimeType] || strings.HasPrefix(mimeType, "audio/")
}

// StoredFile describes an accepted upload.
type StoredFile struct {
	FileURL     string             `json:"fileUrl"`
	FileName    string             `json:"fileName"`
	FileSize    int64              `json:"fileSize"`
	MimeType    string             `json:"mimeType"`
	MessageType models.MessageType `json:"messageType"`
}

// Store writes uploads below Dir, one folder per media kind, and serves them
// under URLPrefix.
type Store struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

func NewStore(dir string, maxBytes int64) *Store {
	return &Store{Dir: dir, URLPrefix: "/uploads", MaxBytes: maxBytes}
}

// Save validates and stores a multipart file.
func (s *Store) Save(header *multipart.FileHeader) (StoredFile, error) {
	if header == nil {
		return StoredFile{}, ErrEmptyFile
	}
	if s.MaxBytes > 0 && header.Size > s.MaxBytes {
		return StoredFile{}, ErrFileTooLarge
	}

	src, err := header.Open()
	if err != nil {
		return StoredFile{}, err
	}
	defer src.Close()

	mimeType, err := s.detect(header, src)
	if err != nil {
		return StoredFile{}, err
	}
	if !Allowed(mimeType) {
		return StoredFile{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	msgType := models.MessageTypeForMIME(mimeType)
	folder := string(msgType) + "s"
	if msgType == models.MessageTypeAudio {
		folder = "audio"
	}
	if err := os.MkdirAll(filepath.Join(s.Dir, folder), 0o755); err != nil {
		return StoredFile{}, err
	}

	name := storedName(header.Filename)
	dst, err := os.Create(filepath.Join(s.Dir, folder, name))
	if err != nil {
		return StoredFile{}, err
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return StoredFile{}, err
	}

	return StoredFile{
		FileURL:     s.URLPrefix + "/" + folder + "/" + name,
		FileName:    header.Filename,
		FileSize:    written,
		MimeType:    mimeType,
		MessageType: msgType,
	}, nil
}

// detect trusts the declared type unless it is missing or generic, in which
// case the content is sniffed.
func (s *Store) detect(header *multipart.FileHeader, src multipart.File) (string, error) {
	declared := header.Header.Get("Content-Type")
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = declared[:i]
	}
	declared = strings.TrimSpace(strings.ToLower(declared))
	if declared != "" && declared != "application/octet-stream" {
		return normalize(declared), nil
	}

	detected, err := mimetype.DetectReader(src)
	if err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	mt := detected.String()
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return normalize(mt), nil
}

func normalize(mimeType string) string {
	switch mimeType {
	case "audio/x-m4a", "audio/m4a":
		return "audio/mp4"
	}
	return mimeType
}

func storedName(original string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(filepath.Base(original), ext)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	if len(base) > 64 {
		base = base[:64]
	}
	return fmt.Sprintf("%d-%s-%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], base, strings.ToLower(ext))
}
