package api

import (
	"encoding/json"
	"net/http"

	"github.com/readgate/readgate/internal/errors"
	"github.com/readgate/readgate/internal/gate"
	"github.com/readgate/readgate/internal/logger"
)

// handleError centralizes error handling for HTTP responses
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.NewInternalError(err)
	}

	if appErr.Status >= 500 {
		log.Error("server error: %v", appErr)
	} else if appErr.Status >= 400 {
		log.Warn("client error: %v", appErr)
	} else {
		log.Debug("error: %v", appErr)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
			// retryable tells the client whether to offer a retry button,
			// possibly with force_refresh set.
			"retryable": gate.IsRetryable(appErr),
		},
	})
}
