// Package extract is the facade over the external text/OCR extraction engine.
// The engine's internals (multiple backends, image preprocessing) are not this
// service's concern; only the per-file extract call is.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ErrUnsupportedFormat indicates a file type no extraction path can handle.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrExtraction indicates an extraction attempt failed for a readable format.
var ErrExtraction = errors.New("extraction failed")

// Client converts one submitted file reference into plain text.
type Client interface {
	ExtractText(ctx context.Context, file models.FileRef) (string, error)
}

// EngineConfig configures the HTTP-backed extraction client.
type EngineConfig struct {
	// BaseURL of the external OCR/document engine. PDF and image files are
	// posted there; plain text and HTML are handled locally.
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// EngineClient implements Client by downloading each file to a scoped temp
// file and routing it by detected media type.
type EngineClient struct {
	baseURL    string
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
}

// NewEngineClient constructs the extraction client.
func NewEngineClient(cfg EngineConfig) *EngineClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &EngineClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     cfg.Logger.With().Str("component", "extraction_client").Logger(),
	}
}

// ExtractText downloads the file and extracts its text. The temporary copy is
// removed on every exit path, success or not.
func (c *EngineClient) ExtractText(ctx context.Context, file models.FileRef) (string, error) {
	path, err := c.download(ctx, file)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: detect type of %s: %v", ErrExtraction, file.Name, err)
	}

	switch {
	case mtype.Is("text/html"):
		return c.extractHTML(path)
	case strings.HasPrefix(mtype.String(), "text/"):
		return c.extractPlain(path)
	case mtype.Is("application/pdf"), strings.HasPrefix(mtype.String(), "image/"):
		return c.extractRemote(ctx, path, file.Name, mtype.String())
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, file.Name, mtype.String())
	}
}

func (c *EngineClient) download(ctx context.Context, file models.FileRef) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build download request: %v", ErrExtraction, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download %s: %v", ErrExtraction, file.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download %s: status %d", ErrExtraction, file.Name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "gradeflow-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", ErrExtraction, err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: save %s: %v", ErrExtraction, file.Name, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: save %s: %v", ErrExtraction, file.Name, err)
	}

	return tmp.Name(), nil
}

func (c *EngineClient) extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *EngineClient) extractHTML(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return strings.TrimSpace(c.sanitizer.Sanitize(string(data))), nil
}

// extractRemote posts the file to the external engine and reads back the text.
func (c *EngineClient) extractRemote(ctx context.Context, path, name, contentType string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: no extraction engine configured for %s", ErrUnsupportedFormat, contentType)
	}

	source, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer source.Close()

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if _, err := io.Copy(part, source); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: engine call: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnsupportedMediaType:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	default:
		return "", fmt.Errorf("%w: engine returned status %d", ErrExtraction, resp.StatusCode)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode engine response: %v", ErrExtraction, err)
	}

	return strings.TrimSpace(payload.Text), nil
}
