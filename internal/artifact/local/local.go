package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/tileconsole/internal/artifact"
	"github.com/vbonduro/tileconsole/internal/domain"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// keySep separates the generated id from the download file name in a key.
const keySep = "_"

type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) Save(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Artifact, error) {
	name := sanitize(fileName)
	if filepath.Ext(name) == "" {
		name += mimeTypeToExt(mimeType)
	}
	key := uuid.NewString() + keySep + name
	filePath := filepath.Join(s.basePath, key)

	f, err := os.Create(filePath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return domain.Artifact{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return domain.Artifact{}, fmt.Errorf("failed to close file: %w", err)
	}
	if mimeType == "" {
		mimeType = extToMimeType(name)
	}
	return domain.Artifact{Key: key, FileName: name, MimeType: mimeType, Size: n}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, domain.Artifact, error) {
	filePath, err := s.safeJoin(key)
	if err != nil {
		return nil, domain.Artifact{}, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Artifact{}, artifact.ErrNotFound
		}
		return nil, domain.Artifact{}, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after stat error", "error", cerr)
		}
		return nil, domain.Artifact{}, fmt.Errorf("failed to stat file: %w", err)
	}
	name := fileNameFromKey(key)
	return f, domain.Artifact{Key: key, FileName: name, MimeType: extToMimeType(name), Size: info.Size()}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	filePath, err := s.safeJoin(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return artifact.ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// safeJoin resolves key relative to basePath and rejects directory traversal.
func (s *Store) safeJoin(key string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, key))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func sanitize(fileName string) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(fileName), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "artifact"
	}
	return name
}

func fileNameFromKey(key string) string {
	if _, name, ok := strings.Cut(key, keySep); ok {
		return name
	}
	return key
}

func mimeTypeToExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ".bin"
	}
}

func extToMimeType(fileName string) string {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
