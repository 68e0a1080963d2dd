package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/2beens/stridewatch/pkg"
)

type LogReader interface {
	Entries(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// LogHandler exposes the rolling log, oldest entry first.
type LogHandler struct {
	reader LogReader
}

func NewLogHandler(router *mux.Router, reader LogReader) *LogHandler {
	handler := &LogHandler{reader: reader}

	router.HandleFunc("/log", options("GET, DELETE", handler.handleEntries)).Methods("GET", "OPTIONS").Name("log-entries")
	router.HandleFunc("/log", handler.handleClear).Methods("DELETE").Name("log-clear")

	return handler
}

func (handler *LogHandler) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := handler.reader.Entries(r.Context())
	if err != nil {
		writeError(w, "get log entries", err)
		return
	}
	if entries == nil {
		entries = []string{}
	}
	pkg.WriteJSON(w, http.StatusOK, entries)
}

func (handler *LogHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := handler.reader.Clear(r.Context()); err != nil {
		writeError(w, "clear log", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
