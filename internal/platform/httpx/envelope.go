package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

// WriteData writes a successful {success, message, data} envelope.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	payload := map[string]any{
		"success": true,
		"message": sanitize(message, 512),
		"data":    data,
	}
	writeJSON(w, status, payload)
}

// WriteError writes err as the backend's error envelope for the request r.
func WriteError(w http.ResponseWriter, r *http.Request, err *APIError) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	path := err.Path
	if path == "" && r != nil && r.URL != nil {
		path = r.URL.Path
	}
	body := map[string]any{
		"code": sanitize(err.Code, 80),
	}
	if len(err.ValidationErrors) > 0 {
		fields := make([]map[string]string, 0, len(err.ValidationErrors))
		for _, fe := range err.ValidationErrors {
			fields = append(fields, map[string]string{"field": fe.Field, "message": fe.Message})
		}
		body["validationErrors"] = fields
	}
	payload := map[string]any{
		"success":    false,
		"message":    sanitize(err.Message, 512),
		"error":      body,
		"statusCode": status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"path":       sanitize(path, 256),
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
