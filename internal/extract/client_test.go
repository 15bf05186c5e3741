package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

func testClient(engineURL string) *EngineClient {
	return NewEngineClient(EngineConfig{
		BaseURL: engineURL,
		Timeout: 5 * time.Second,
		Logger:  zerolog.New(os.Stderr).Level(zerolog.Disabled),
	})
}

// fileServer serves the given bytes for any path.
func fileServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func tempFileCount(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "gradeflow-*"))
	require.NoError(t, err)
	return len(matches)
}

func TestExtractPlainText(t *testing.T) {
	server := fileServer(t, "text/plain", []byte("  the student answer  \n"))

	before := tempFileCount(t)
	text, err := testClient("").ExtractText(context.Background(), models.FileRef{
		Name: "answer.txt",
		URL:  server.URL + "/answer.txt",
	})
	require.NoError(t, err)
	require.Equal(t, "the student answer", text)
	require.Equal(t, before, tempFileCount(t), "temp copy must be removed")
}

func TestExtractHTMLStripsMarkup(t *testing.T) {
	page := []byte(`<!DOCTYPE html><html><body><h1>Essay</h1><p>The thesis <b>matters</b>.</p><script>alert(1)</script></body></html>`)
	server := fileServer(t, "text/html", page)

	text, err := testClient("").ExtractText(context.Background(), models.FileRef{
		Name: "essay.html",
		URL:  server.URL + "/essay.html",
	})
	require.NoError(t, err)
	require.Contains(t, text, "Essay")
	require.Contains(t, text, "The thesis")
	require.NotContains(t, text, "<p>")
	require.NotContains(t, text, "alert(1)")
}

func TestExtractUnknownBinaryFormat(t *testing.T) {
	// ZIP magic bytes; no extraction path handles archives.
	server := fileServer(t, "application/octet-stream", []byte("PK\x03\x04 not really an archive"))

	before := tempFileCount(t)
	_, err := testClient("").ExtractText(context.Background(), models.FileRef{
		Name: "bundle.zip",
		URL:  server.URL + "/bundle.zip",
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Equal(t, before, tempFileCount(t))
}

func TestExtractPDFWithoutEngineConfigured(t *testing.T) {
	server := fileServer(t, "application/pdf", []byte("%PDF-1.4\n1 0 obj\n"))

	_, err := testClient("").ExtractText(context.Background(), models.FileRef{
		Name: "scan.pdf",
		URL:  server.URL + "/scan.pdf",
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractPDFThroughEngine(t *testing.T) {
	fileSrv := fileServer(t, "application/pdf", []byte("%PDF-1.4\n1 0 obj\n"))

	var gotFileName string
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/extract", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFileName = header.Filename

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "recognised text"})
	}))
	t.Cleanup(engine.Close)

	text, err := testClient(engine.URL).ExtractText(context.Background(), models.FileRef{
		Name: "scan.pdf",
		URL:  fileSrv.URL + "/scan.pdf",
	})
	require.NoError(t, err)
	require.Equal(t, "recognised text", text)
	require.Equal(t, "scan.pdf", gotFileName)
}

func TestExtractEngineRejectsMediaType(t *testing.T) {
	fileSrv := fileServer(t, "image/png", pngBytes())
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
	}))
	t.Cleanup(engine.Close)

	_, err := testClient(engine.URL).ExtractText(context.Background(), models.FileRef{
		Name: "photo.png",
		URL:  fileSrv.URL + "/photo.png",
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, err := testClient("").ExtractText(context.Background(), models.FileRef{
		Name: "gone.txt",
		URL:  server.URL + "/gone.txt",
	})
	require.ErrorIs(t, err, ErrExtraction)
}

// pngBytes is a minimal PNG header, enough for media type detection.
func pngBytes() []byte {
	return []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
}
