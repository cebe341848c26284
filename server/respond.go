package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes. Client-input
// failures (configuration, CSRF) come back as 4xx; upstream and refresh
// failures as 502. Error messages never carry token values.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case internalerrors.Is(err, internalerrors.ErrConfiguration),
		internalerrors.Is(err, internalerrors.ErrCsrf):
		status = http.StatusBadRequest
	case internalerrors.Is(err, internalerrors.ErrNotAuthorized):
		status = http.StatusUnauthorized
	case internalerrors.Is(err, internalerrors.ErrAuthorization):
		status = http.StatusForbidden
	case internalerrors.Is(err, internalerrors.ErrUpstream),
		internalerrors.Is(err, internalerrors.ErrProtocol),
		internalerrors.Is(err, internalerrors.ErrRefreshFailed):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Warn().Err(err).Msg("request rejected")
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
