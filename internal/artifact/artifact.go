package artifact

import (
	"context"
	"errors"
	"io"

	"github.com/vbonduro/tileconsole/internal/domain"
)

var ErrNotFound = errors.New("artifact not found")

// Store keeps stage outputs (resized images, exported workbooks) until an
// operator downloads them.
type Store interface {
	Save(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Artifact, error)
	Get(ctx context.Context, key string) (io.ReadCloser, domain.Artifact, error)
	Delete(ctx context.Context, key string) error
}
