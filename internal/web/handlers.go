package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
)

type handlers struct {
	deps Deps
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError maps err to its status code and a {success:false} body.
func respondError(w http.ResponseWriter, err error) {
	status := errortypes.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", logger.LoggerOptions{Key: "error", Data: err.Error()})
	}
	respondJSON(w, status, map[string]any{
		"success": false,
		"message": errortypes.Message(err),
	})
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// formImage reads the named multipart file. A missing file yields nil bytes.
func formImage(r *http.Request, field string) ([]byte, error) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, errortypes.Input("failed to parse multipart form")
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, nil
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errortypes.Input("failed to read uploaded image")
	}
	return data, nil
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type recognizeResponse struct {
	Success               bool                `json:"success"`
	Recognized            []types.MatchResult `json:"recognized"`
	FacesDetected         int                 `json:"faces_detected"`
	ProcessingTimeSeconds float64             `json:"processing_time_seconds"`
}

func (h *handlers) recognizeGroup(w http.ResponseWriter, r *http.Request) {
	image, err := formImage(r, "image")
	if err != nil {
		respondError(w, err)
		return
	}

	resp, err := h.deps.Recognizer.Recognize(r.Context(), image)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recognizeResponse{
		Success:               true,
		Recognized:            resp.Recognized,
		FacesDetected:         resp.FacesDetected,
		ProcessingTimeSeconds: resp.ProcessingTime.Seconds(),
	})
}

func (h *handlers) uploadFace(w http.ResponseWriter, r *http.Request) {
	image, err := formImage(r, "image")
	if err != nil {
		respondError(w, err)
		return
	}

	slot := 0
	if raw := r.FormValue("imageIndex"); raw != "" {
		slot, err = strconv.Atoi(raw)
		if err != nil {
			respondError(w, errortypes.Input(enroll.MsgBadIndex))
			return
		}
	}

	res, err := h.deps.Enroller.Enroll(r.Context(), enroll.Request{
		Name:   strings.TrimSpace(r.FormValue("name")),
		RollNo: strings.TrimSpace(r.FormValue("roll_no")),
		Class:  strings.TrimSpace(r.FormValue("class")),
		Slot:   slot,
		Image:  image,
	})
	if err != nil {
		logger.Warning("enrollment rejected",
			logger.LoggerOptions{Key: "name", Data: sanitizeForLog(r.FormValue("name"))},
			logger.LoggerOptions{Key: "slot", Data: slot},
			logger.LoggerOptions{Key: "error", Data: err.Error()})
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  res.Message,
		"complete": res.Complete,
	})
}

func (h *handlers) regenerateAll(w http.ResponseWriter, r *http.Request) {
	ok, failed, err := h.deps.Regenerator.RegenerateAll(r.Context(), nil)
	if err != nil {
		respondError(w, errortypes.Unexpected(err))
		return
	}
	if ok == nil {
		ok = []string{}
	}
	if failed == nil {
		failed = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"message":             fmt.Sprintf("Regenerated features for %d students, %d failed", len(ok), len(failed)),
		"successful_students": ok,
		"failed_students":     failed,
	})
}

func (h *handlers) identities(w http.ResponseWriter, r *http.Request) {
	metas, err := h.deps.Roster.ListMetadata(r.Context())
	if err != nil {
		respondError(w, errortypes.Unexpected(err))
		return
	}
	if metas == nil {
		metas = []types.IdentityMeta{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"identities": metas,
		"count":      len(metas),
	})
}
