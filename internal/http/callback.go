package http

import (
	"net/http"

	"edgemesh/pkg/compression"
)

// handleCallback acknowledges as soon as the result is queued.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	enc, err := compression.ParseEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := compression.Decode(enc, r.Body, maxBodyBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.Callbacks.Deliver(payload); err != nil {
		a.count("callback_results_total", map[string]string{"result": "rejected"})
		writeError(w, err)
		return
	}
	a.count("callback_results_total", map[string]string{"result": "queued"})
	writeJSON(w, http.StatusOK, ackResponse)
}
