package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/server"
)

// echoModel returns the rewrite input unchanged and answers with the number
// of history turns it was given.
type echoModel struct{}

func (echoModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	system := msgs[0].Parts[0].(llms.TextContent).Text
	last := msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text

	reply := fmt.Sprintf("turns=%d", len(msgs)-2)
	switch {
	case strings.Contains(system, "standalone question"):
		reply = last
	case strings.Contains(system, "analyze and summarize"):
		reply = `{"Title":"Uploaded"}`
	case strings.Contains(system, "compare and summarize"):
		reply = `[{"Page":"1","Changes":"Totals changed"}]`
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m echoModel) Call(ctx context.Context, p string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, p, options...)
}

type fileExtractor struct{}

func (fileExtractor) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

type flatEmbedder struct{}

func (flatEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (flatEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type loader struct{}

func (loader) LoadEmbeddings(context.Context) (embeddings.Embedder, error) {
	return flatEmbedder{}, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("DOCPORTAL_DATA_DIR", "")
	t.Setenv("DATABASE_URL", "")

	base := t.TempDir()
	path := filepath.Join(base, "config.yaml")
	body := "storage:\n  data_dir: " + filepath.Join(base, "data") + "\n" +
		"index:\n  dir: " + filepath.Join(base, "faiss_index") + "\n" +
		"processor:\n  min_chunk_length: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	a, err := app.New(cfg, logger.Nop(), app.Deps{
		LLM:        echoModel{},
		Embeddings: loader{},
		Extractor:  fileExtractor{},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.New(a, logger.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type part struct {
	field, name, body string
}

func upload(t *testing.T, url string, parts ...part) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		w, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	ts := newServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyze(t *testing.T) {
	ts := newServer(t)

	resp, out := upload(t, ts.URL+"/api/analyze", part{"file", "report.pdf", "Quarterly numbers."})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Uploaded", out["analysis"].(map[string]any)["Title"])
	assert.NotEmpty(t, out["session_id"])

	resp, out = upload(t, ts.URL+"/api/analyze", part{"file", "report.txt", "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation error", out["kind"])

	resp, _ = upload(t, ts.URL+"/api/analyze", part{"other", "report.pdf", "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompare(t *testing.T) {
	ts := newServer(t)

	resp, out := upload(t, ts.URL+"/api/compare",
		part{"reference", "v1.pdf", "Total 10."},
		part{"actual", "v2.pdf", "Total 12."},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := out["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Totals changed", rows[0].(map[string]any)["Changes"])
}

func TestChatOverWebSocket(t *testing.T) {
	ts := newServer(t)

	resp, out := upload(t, ts.URL+"/api/chat/index",
		part{"files", "a.pdf", "Alpha passage."},
		part{"files", "b.pdf", "Bravo passage."},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["documents"])
	sessionID := out["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i, want := range []string{"turns=0", "turns=2"} {
		require.NoError(t, conn.WriteJSON(server.Message{Type: "chat", Content: fmt.Sprintf("question %d", i)}))
		var reply server.Message
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "response", reply.Type)
		assert.Equal(t, want, reply.Content)
	}
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	ts := newServer(t)

	resp, err := http.Get(ts.URL + "/ws?session_id=session_20250101_120000_abcdef12")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Errorf(errs.KindValidation, "op", "bad"), http.StatusBadRequest},
		{errs.Errorf(errs.KindUnsupportedDocument, "op", "encrypted"), http.StatusUnsupportedMediaType},
		{errs.Errorf(errs.KindNotFound, "op", "missing"), http.StatusNotFound},
		{errs.Errorf(errs.KindInvalidState, "op", "attach first"), http.StatusConflict},
		{errs.Errorf(errs.KindIOFailure, "op", "disk"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, server.StatusFor(tt.err), tt.err.Error())
	}
}
