package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/rpc"
	"edgemesh/pkg/telemetry"
)

// handleUtilStream writes one JSON object per line for every snapshot until
// the client goes away.
func (a *API) handleUtilStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, failure(fabricerr.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	err := a.Telemetry.Serve(r.Context(), func(snap telemetry.Snapshot) error {
		if err := enc.Encode(rpc.UtilMessage{Values: snap}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Info("utilization stream ended", "remote", r.RemoteAddr, "error", err)
	}
}
