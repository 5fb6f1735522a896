package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/routing"
	"edgemesh/pkg/rpc"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleDump(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for i, t := range a.Tables {
		fmt.Fprintf(&b, "Table#%d\n", i)
		if err := routing.Dump(&b, t.Snapshot()); err != nil {
			writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(b.String())); err != nil {
		slog.Warn("Failed to write dump response", "error", err)
	}
}

func (a *API) handleNumTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rpc.TableCount{Count: len(a.Tables)})
}

func (a *API) handleGetTable(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: table id: %v", fabricerr.ErrMalformedMessage, err))
		return
	}

	// a table that does not exist reads as empty
	entries := []rpc.TableEntry{}
	if id >= 0 && id < len(a.Tables) {
		entries = rpc.Entries(a.Tables[id].Snapshot())
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req rpc.ConfigureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", fabricerr.ErrMalformedMessage, err))
		return
	}

	if err := a.configure(req); err != nil {
		a.count("control_requests_total", map[string]string{"action": string(req.Action), "result": fabricerr.Code(err)})
		slog.Info("control request rejected", "action", req.Action, "function", req.Function, "destination", req.Destination, "error", err)
		writeError(w, err)
		return
	}

	a.count("control_requests_total", map[string]string{"action": string(req.Action), "result": "ok"})
	slog.Debug("control request applied", "action", req.Action, "function", req.Function,
		"destination", req.Destination, "weight", req.Weight, "final", req.Final)
	writeJSON(w, http.StatusOK, ackResponse)
}

// configure applies req to the tables. With two tables a non-final route
// goes to the first one only.
func (a *API) configure(req rpc.ConfigureRequest) error {
	switch req.Action {
	case rpc.ActionChange:
		if err := routing.ValidateChange(req.Function, req.Destination, req.Weight); err != nil {
			return err
		}
		for i, t := range a.Tables {
			if len(a.Tables) > 1 && i > 0 && !req.Final {
				continue
			}
			if err := t.Change(req.Function, req.Destination, req.Weight, req.Final); err != nil {
				return fmt.Errorf("table %d: %w", i, err)
			}
		}
	case rpc.ActionRemove:
		for i, t := range a.Tables {
			if err := t.Remove(req.Function, req.Destination); err != nil {
				return fmt.Errorf("table %d: %w", i, err)
			}
		}
	case rpc.ActionFlush:
		for i, t := range a.Tables {
			if err := t.Flush(); err != nil {
				return fmt.Errorf("table %d: %w", i, err)
			}
		}
	case rpc.ActionReset:
		for i, t := range a.Tables {
			if err := t.ResetAll(); err != nil {
				return fmt.Errorf("table %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown action %q", fabricerr.ErrMalformedMessage, req.Action)
	}
	return nil
}
