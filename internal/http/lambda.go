package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"edgemesh/pkg/cluster"
	"edgemesh/pkg/fabricerr"
)

func (a *API) handleLambda(w http.ResponseWriter, r *http.Request) {
	var req cluster.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", fabricerr.ErrMalformedMessage, err))
		return
	}

	resp, err := a.Dispatcher.Process(r.Context(), req)
	switch {
	case errors.Is(err, cluster.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, failure(fabricerr.CodeInternal, err.Error()))
		return
	case err != nil:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
