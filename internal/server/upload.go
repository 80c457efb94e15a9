// internal/server/upload.go
package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mcp-meal-lens/internal/analyzer"
	"mcp-meal-lens/internal/inference"
	"mcp-meal-lens/internal/logger"
)

const maxUploadBytes = 32 << 20

// handleUpload accepts a multipart form with one or more "images" files and
// optional repeated "goals" values, and returns the stored analysis.
func (s *MealLensServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid form: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var goals []string
	for _, g := range r.MultipartForm.Value["goals"] {
		// Allow "a,b" as well as repeated fields.
		for _, part := range strings.Split(g, ",") {
			if part = strings.TrimSpace(part); part != "" {
				goals = append(goals, part)
			}
		}
	}

	files := r.MultipartForm.File["images"]
	images := make([]inference.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		img, err := inference.NewImage(fh.Filename, data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		images = append(images, img)
	}

	analysis, err := s.analyzer.Analyze(r.Context(), analyzer.Request{Goals: goals, Images: images})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("analysis failed", zap.Int("images", len(images)), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}
