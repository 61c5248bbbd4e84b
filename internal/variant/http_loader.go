package variant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vbonduro/tileconsole/internal/capture"
)

var ErrNotLoaded = errors.New("variant not loaded")

// HTTPLoader probes thumbnails at {thumbBase}/{variant}.jpg.
type HTTPLoader struct {
	client *resty.Client
}

func NewHTTPLoader(thumbBase string, timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLoader{
		client: resty.New().
			SetBaseURL(strings.TrimRight(thumbBase, "/")).
			SetTimeout(timeout),
	}
}

// Load succeeds only for a 200 reply carrying image bytes.
func (l *HTTPLoader) Load(ctx context.Context, variant string) error {
	resp, err := l.client.R().
		SetContext(ctx).
		Get("/" + url.PathEscape(variant) + ".jpg")
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", variant, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrNotLoaded, variant, resp.StatusCode())
	}
	if _, ok := capture.DetectImage(resp.Body()); !ok {
		return fmt.Errorf("%w: %s is not an image", ErrNotLoaded, variant)
	}
	return nil
}
