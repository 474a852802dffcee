package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/singcapture/internal/service"
	"github.com/audiolibrelab/singcapture/internal/track"
)

// maxUpload bounds multipart start requests.
const maxUpload = 256 << 20

// Server is the HTTP control surface of the capture engine.
type Server struct {
	service *service.Service
	port    int
	mux     *http.ServeMux
}

// TrackRequest names one input of a JSON start request.
type TrackRequest struct {
	Name            string  `json:"name"`
	Path            string  `json:"path"`
	MIME            string  `json:"mime"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// StartRequest is the JSON body of POST /api/record/start.
type StartRequest struct {
	Title         string        `json:"title"`
	ViewportWidth int           `json:"viewport_width"`
	Backing       TrackRequest  `json:"backing"`
	Reference     *TrackRequest `json:"reference,omitempty"`
	Background    string        `json:"background,omitempty"`
	Watermark     string        `json:"watermark,omitempty"`
}

func (t TrackRequest) ref() track.Ref {
	return track.Ref{
		Name:     t.Name,
		Location: t.Path,
		MIME:     t.MIME,
		Duration: seconds(t.DurationSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// New creates a server for svc on port.
func New(svc *service.Service, port int) *Server {
	s := &Server{service: svc, port: port, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/record/start", s.handleStart)
	s.mux.HandleFunc("/api/record/stop", s.handleStop)
	s.mux.HandleFunc("/api/record/new", s.handleNew)
	s.mux.HandleFunc("/api/preview/toggle", s.handleTogglePreview)
	s.mux.HandleFunc("/api/playback/toggle", s.handleTogglePlayback)
	s.mux.HandleFunc("/api/recording/save", s.handleSave)
	s.mux.HandleFunc("/api/recording/publish", s.handlePublish)
	s.mux.HandleFunc("/blob/", s.handleBlob)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting SingCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>SingCapture</title>
</head>
<body>
    <h1>SingCapture</h1>
    <ul>
        <li>POST /api/record/start - Start recording</li>
        <li>POST /api/record/stop - Stop recording</li>
        <li>POST /api/record/new - Discard the recording</li>
        <li>GET /api/status - Get status</li>
        <li>POST /api/preview/toggle - Play or pause the song before recording</li>
        <li>POST /api/playback/toggle - Play or stop the recording</li>
        <li>POST /api/recording/save - Save the recording</li>
        <li>POST /api/recording/publish - Publish the recording</li>
    </ul>
</body>
</html>`

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path, "method", r.Method)
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	var in service.Inputs
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		in, err = parseMultipart(r)
	} else {
		in, err = parseJSON(r)
	}
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "start")
		return
	}

	slog.Debug("Start request received", "track", in.Backing.Name, "viewport_width", in.ViewportWidth)
	sess, err := s.service.StartRecording(r.Context(), in)
	if err != nil {
		if sess == nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "start")
			return
		}
		slog.Warn("Recording could not start", "session_id", sess.ID(), "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success":    false,
			"session_id": sess.ID(),
			"error":      s.service.Status().Message,
			"detail":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sess.ID(),
		"status":     sess.Status(),
	})
}

func parseJSON(r *http.Request) (service.Inputs, error) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.Inputs{}, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Backing.Path == "" {
		return service.Inputs{}, errors.New("backing track path is required")
	}
	in := service.Inputs{
		Backing:       req.Backing.ref(),
		Title:         req.Title,
		ViewportWidth: req.ViewportWidth,
	}
	if req.Reference != nil && req.Reference.Path != "" {
		ref := req.Reference.ref()
		in.Reference = &ref
	}
	if req.Background != "" {
		in.Background = &track.ImageRef{Name: "background", Location: req.Background}
	}
	if req.Watermark != "" {
		in.Watermark = &track.ImageRef{Name: "watermark", Location: req.Watermark}
	}
	return in, nil
}

func parseMultipart(r *http.Request) (service.Inputs, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return service.Inputs{}, fmt.Errorf("failed to parse form: %w", err)
	}
	data, header, err := formFile(r, "backing")
	if err != nil {
		return service.Inputs{}, err
	}
	if data == nil {
		return service.Inputs{}, errors.New("backing track file is required")
	}

	duration, _ := strconv.ParseFloat(r.FormValue("duration"), 64)
	width, _ := strconv.Atoi(r.FormValue("viewport_width"))
	in := service.Inputs{
		Backing: track.Ref{
			Name:     header.Filename,
			Data:     data,
			MIME:     header.Header.Get("Content-Type"),
			Duration: seconds(duration),
		},
		Title:         r.FormValue("title"),
		ViewportWidth: width,
	}

	if data, header, err := formFile(r, "reference"); err != nil {
		return service.Inputs{}, err
	} else if data != nil {
		in.Reference = &track.Ref{
			Name:     header.Filename,
			Data:     data,
			MIME:     header.Header.Get("Content-Type"),
			Duration: seconds(duration),
		}
	}
	if data, header, err := formFile(r, "background"); err != nil {
		return service.Inputs{}, err
	} else if data != nil {
		in.Background = &track.ImageRef{Name: header.Filename, Data: data}
	}
	return in, nil
}

// formFile reads an optional uploaded file. A missing field returns nil data.
func formFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return data, header, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StopRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "stop")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  s.service.Status().Message,
	})
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if err := s.service.NewRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "new_recording")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleTogglePreview(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	// Pausing needs no body
	var in service.Inputs
	if !s.service.Previewing() {
		var err error
		if in, err = parseJSON(r); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "toggle_preview")
			return
		}
	}
	playing, err := s.service.TogglePreview(r.Context(), in)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "toggle_preview")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"playing": playing,
	})
}

func (s *Server) handleTogglePlayback(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	playing, err := s.service.TogglePlayback()
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "toggle_playback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"playing": playing,
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	path, err := s.service.SaveArtifact()
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "save")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    path,
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	pub, err := s.service.Publish(r.Context())
	if err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "publish")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"key":        pub.Key,
		"url":        pub.URL,
		"expires_at": pub.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleBlob serves an object URL, /blob/<id>.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/blob/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid object URL", http.StatusBadRequest)
		return
	}
	m, ok := s.service.Resolve(id)
	if !ok {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", m.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", m.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(m.Data); err != nil {
		slog.Debug("Download interrupted", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNoRecording), errors.Is(err, service.ErrPreviewUnavailable):
		return http.StatusConflict
	case errors.Is(err, service.ErrExportDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the failure and replies with a JSON error body.
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
