package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/artifact"
)

// Previewer renders a review thumbnail of a job's media file.
type Previewer interface {
	Render(ctx context.Context, jobID, sourceURL string) (string, error)
}

// PreviewRenderer downloads the original upload, scales it down and stores
// it next to the dry-run journal so the operator can check the portrait
// before approving.
type PreviewRenderer struct {
	store      artifact.Store
	httpClient *http.Client
	width      int
	maxBytes   int64
	userAgent  string
}

func NewPreviewRenderer(st artifact.Store, width int, maxBytes int64, timeout time.Duration, userAgent string) *PreviewRenderer {
	if width <= 0 {
		width = 640
	}
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PreviewRenderer{
		store:      st,
		httpClient: &http.Client{Timeout: timeout},
		width:      width,
		maxBytes:   maxBytes,
		userAgent:  userAgent,
	}
}

// Render returns the location of the stored preview.
func (p *PreviewRenderer) Render(ctx context.Context, jobID, sourceURL string) (string, error) {
	data, err := p.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() > p.width {
		img = imaging.Resize(img, p.width, 0, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	loc, err := p.store.Put(ctx, "previews/"+jobID+".jpg", buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("store preview: %w", err)
	}
	return loc, nil
}

func (p *PreviewRenderer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > p.maxBytes {
		return nil, fmt.Errorf("image too large (>%d bytes)", p.maxBytes)
	}
	return body, nil
}
