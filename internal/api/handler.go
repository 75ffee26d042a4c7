package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/internal/dto"
	"github.com/30ozSteak/StoryboardR-sub000/internal/jobs"
	"github.com/30ozSteak/StoryboardR-sub000/internal/service"
)

type Handler struct {
	config    *config.Config
	store     jobs.Store
	processor *service.VideoProcessor
	frames    *service.FrameService
}

// Constructor for Handler
func NewHandler(cfg *config.Config, store jobs.Store, processor *service.VideoProcessor, frames *service.FrameService) *Handler {
	return &Handler{
		config:    cfg,
		store:     store,
		processor: processor,
		frames:    frames,
	}
}

func (handler *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := dto.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	handler.respondJSON(w, http.StatusOK, response)
}

// StartProcessing accepts either a JSON body with a video URL or a
// multipart upload, validates it synchronously, and returns the job and
// session identifiers without waiting for the pipeline.
func (handler *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		handler.startProcessingUpload(w, r)
		return
	}

	var req dto.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.URL == "" {
		handler.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !service.IsValidVideoURL(req.URL) {
		handler.respondError(w, http.StatusBadRequest, "URL is not a supported video platform or direct video link")
		return
	}

	job, err := handler.processor.StartProcessing(
		service.ProcessSource{URL: req.URL},
		toExtractionOptions(req.Options),
	)
	if err != nil {
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start processing: %v", err))
		return
	}

	handler.respondJSON(w, http.StatusAccepted, dto.ProcessAccepted{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    string(job.Status),
	})
}

func (handler *Handler) startProcessingUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, handler.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse form: %v", err))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to get video file: %v", err))
		return
	}
	defer file.Close()

	if !isValidVideoFile(header.Filename) {
		handler.respondError(w, http.StatusBadRequest, "Invalid file type. Only MP4/WebM/MOV/MKV/AVI videos are allowed")
		return
	}

	var options dto.ExtractionOptionsRequest
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse options: %v", err))
			return
		}
	}

	if err := os.MkdirAll(handler.config.VideoStorageDir, 0755); err != nil {
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create storage directory: %v", err))
		return
	}

	// Stage the upload next to its final location so the pipeline's
	// move is a rename, not a copy.
	tempFile, err := os.CreateTemp(handler.config.VideoStorageDir, "upload_*.mp4")
	if err != nil {
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create file: %v", err))
		return
	}
	if _, err := io.Copy(tempFile, file); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save file: %v", err))
		return
	}
	tempFile.Close()

	job, err := handler.processor.StartProcessing(
		service.ProcessSource{UploadPath: tempFile.Name(), UploadName: header.Filename},
		toExtractionOptions(options),
	)
	if err != nil {
		os.Remove(tempFile.Name())
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start processing: %v", err))
		return
	}

	log.Printf("Upload accepted: %s (%d bytes) for session %s", header.Filename, header.Size, job.SessionID)
	handler.respondJSON(w, http.StatusAccepted, dto.ProcessAccepted{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    string(job.Status),
	})
}

// GetProgress returns the job view the client polls. A missing job is a
// 404 the poller is expected to tolerate, never a server error.
func (handler *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	jobID := lastPathSegment(r.URL.Path)
	if jobID == "" {
		handler.respondError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job := handler.store.Get(jobID)
	if job == nil {
		handler.respondError(w, http.StatusNotFound, "Job not found or expired")
		return
	}
	handler.respondJSON(w, http.StatusOK, job)
}

// CancelJob marks the job cancelled; the background worker stops at its
// next phase boundary.
func (handler *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	jobID := lastPathSegment(r.URL.Path)
	if jobID == "" {
		handler.respondError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if !handler.processor.CancelJob(jobID) {
		handler.respondError(w, http.StatusNotFound, "Job not found or expired")
		return
	}
	handler.respondJSON(w, http.StatusOK, handler.store.Get(jobID))
}

func (handler *Handler) Scrub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.ScrubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	result, err := handler.frames.Scrub(r.Context(), req.SessionID, req.BaseFilename, req.Timestamp)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, result)
}

func (handler *Handler) SaveScrub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.SaveScrubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" || req.Filename == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id and filename are required")
		return
	}

	result, err := handler.frames.SaveScrub(req.SessionID, req.Filename, req.Timestamp)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, result)
}

func (handler *Handler) RevertScrub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.RevertScrubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" || req.Filename == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id and filename are required")
		return
	}

	removed, err := handler.frames.RevertScrub(req.SessionID, req.Filename)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

func (handler *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	result, err := handler.frames.NavigateAdjacent(r.Context(), req.SessionID, req.BaseFilename, req.Direction, req.Timestamp)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, result)
}

func (handler *Handler) AddKeyframe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.AddKeyframeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	result, err := handler.frames.AddKeyframe(r.Context(), req.SessionID, req.Timestamp, req.InsertAfterIndex)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, result)
}

func (handler *Handler) CloneFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req dto.CloneFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.SessionID == "" || req.Filename == "" {
		handler.respondError(w, http.StatusBadRequest, "session_id and filename are required")
		return
	}

	result, err := handler.frames.CloneFrame(req.SessionID, req.Filename)
	if err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, result)
}

func (handler *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := lastPathSegment(r.URL.Path)
	if sessionID == "" {
		handler.respondError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	if err := handler.frames.DeleteSession(r.Context(), sessionID); err != nil {
		handler.respondFrameError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

// JobStats exposes per-status job counts for debugging.
func (handler *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	handler.respondJSON(w, http.StatusOK, handler.store.Stats())
}

// ServeFrame serves frame images from disk storage.
func (handler *Handler) ServeFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		handler.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Parse path: /frames/<session_id>/<filename>
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/frames/"), "/")
	if len(pathParts) != 2 {
		handler.respondError(w, http.StatusBadRequest, "Invalid frame path format. Expected /frames/<session_id>/<filename>")
		return
	}

	sessionID := pathParts[0]
	filename := pathParts[1]

	// Sanitize inputs to prevent path traversal
	if strings.Contains(sessionID, "..") || strings.Contains(filename, "..") {
		handler.respondError(w, http.StatusBadRequest, "Invalid path: contains path traversal")
		return
	}
	if !service.ValidFrameFilename(filename) {
		handler.respondError(w, http.StatusBadRequest, "Invalid frame filename")
		return
	}

	framePath := filepath.Join(handler.config.FrameStorageDir, sessionID, filename)

	fileInfo, err := os.Stat(framePath)
	if os.IsNotExist(err) {
		handler.respondError(w, http.StatusNotFound, fmt.Sprintf("Frame not found: %s", filename))
		return
	}
	if err != nil {
		handler.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Error accessing frame: %v", err))
		return
	}
	if fileInfo.IsDir() {
		handler.respondError(w, http.StatusBadRequest, "Path is a directory, not a file")
		return
	}

	w.Header().Set("Content-Type", contentTypeForFrame(filename))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, framePath)
}

// Helper methods for responses
func (handler *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (handler *Handler) respondError(w http.ResponseWriter, status int, message string) {
	handler.respondJSON(w, status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// respondFrameError distinguishes bad input from genuine failures.
func (handler *Handler) respondFrameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidFilename):
		handler.respondError(w, http.StatusBadRequest, err.Error())
	case strings.Contains(err.Error(), "not found"), strings.Contains(err.Error(), "not available"):
		handler.respondError(w, http.StatusNotFound, err.Error())
	case strings.Contains(err.Error(), "invalid"):
		handler.respondError(w, http.StatusBadRequest, err.Error())
	default:
		handler.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func lastPathSegment(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// isValidVideoFile checks the upload extension allow-list.
func isValidVideoFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".mp4" || ext == ".webm" || ext == ".mov" || ext == ".mkv" || ext == ".avi"
}

func contentTypeForFrame(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func toExtractionOptions(req dto.ExtractionOptionsRequest) service.ExtractionOptions {
	return service.ExtractionOptions{
		Format:           req.Format,
		Quality:          req.Quality,
		MaxFrames:        int(req.MaxFrames),
		MinInterval:      req.MinInterval,
		IncludeLastFrame: req.IncludeLastFrame,
	}
}
