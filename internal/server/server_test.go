package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/singcapture/internal/audio"
	"github.com/audiolibrelab/singcapture/internal/capture/capturetest"
	"github.com/audiolibrelab/singcapture/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T) (*Server, *capturetest.Recorder) {
	t.Helper()
	cfg := capturetest.Config()
	cfg.Output.Directory = t.TempDir()
	rec := capturetest.NewRecorder(t, cfg, capturetest.BackingSet(12*time.Second))
	svc := service.NewWithRecorder(cfg, "", rec.Recorder, nil)
	t.Cleanup(func() { svc.Close() })
	return New(svc, 0), rec
}

func do(t *testing.T, s *Server, method, path string, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

const startBody = `{
	"title": "Bohemian Rhapsody",
	"backing": {"name": "Bohemian Rhapsody (Karaoke)", "path": "backing.wav", "duration_seconds": 12}
}`

func TestRecordingFlow(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/api/record/start", startBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "recording", out["status"])
	sessionID := out["session_id"]

	w, out = do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recording", out["state"])
	session := out["session"].(map[string]interface{})
	assert.Equal(t, sessionID, session["id"])

	w, out = do(t, s, http.MethodPost, "/api/record/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", out["status"])

	_, out = do(t, s, http.MethodGet, "/api/status", "")
	session = out["session"].(map[string]interface{})
	url := session["download_url"].(string)
	require.True(t, strings.HasPrefix(url, "blob:"))

	w, _ = do(t, s, http.MethodGet, "/blob/"+strings.TrimPrefix(url, "blob:"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Bohemian_Rhapsody.wav"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "RIFF", w.Body.String()[:4])

	w, out = do(t, s, http.MethodPost, "/api/recording/save", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.FileExists(t, out["path"].(string))

	w, out = do(t, s, http.MethodPost, "/api/playback/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["playing"])

	w, _ = do(t, s, http.MethodPost, "/api/record/new", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodGet, "/blob/"+strings.TrimPrefix(url, "blob:"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreviewToggle(t *testing.T) {
	s, rec := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/api/preview/toggle", `{"title": "Bohemian Rhapsody"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, out["success"])

	w, out = do(t, s, http.MethodPost, "/api/preview/toggle", startBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["playing"])
	_, out = do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, true, out["previewing"])

	w, out = do(t, s, http.MethodPost, "/api/preview/toggle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, out["playing"])

	w, _ = do(t, s, http.MethodPost, "/api/preview/toggle", startBody)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, s, http.MethodPost, "/api/record/start", startBody)
	require.Equal(t, http.StatusOK, w.Code)
	_, out = do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, false, out["previewing"], "recording stops the preview")

	w, out = do(t, s, http.MethodPost, "/api/preview/toggle", startBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, 2, rec.Player.Starts())
}

func TestStartValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"title":`},
		{"missing backing", `{"title": "Bohemian Rhapsody"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := do(t, s, http.MethodPost, "/api/record/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestStartFailureReportsMessage(t *testing.T) {
	s, rec := newTestServer(t)
	rec.Backend.OpenErr = audio.ErrDeviceBusy

	w, out := do(t, s, http.MethodPost, "/api/record/start", startBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "microphone is busy", out["error"])
}

func TestMultipartStart(t *testing.T) {
	s, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("title", "Bohemian Rhapsody"))
	require.NoError(t, mw.WriteField("duration", "12"))
	require.NoError(t, mw.WriteField("viewport_width", "0"))
	part, err := mw.CreateFormFile("backing", "backing.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/record/start", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestConflictsAndMethods(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/api/record/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/playback/toggle", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/recording/publish", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	_, _ = do(t, s, http.MethodPost, "/api/record/start", startBody)
	w, out := do(t, s, http.MethodPost, "/api/record/new", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, out["error"], "recording")

	w, _ = do(t, s, http.MethodGet, "/blob/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SingCapture")

	w, _ = do(t, s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
