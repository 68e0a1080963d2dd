package pkg

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// WriteJSON marshals v and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Errorf("response: marshal %T: %s", v, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	write(w, ContentTypeJSON, payload, statusCode)
}

func WriteText(w http.ResponseWriter, statusCode int, text string) {
	write(w, ContentTypeText, []byte(text), statusCode)
}

func write(w http.ResponseWriter, contentType string, body []byte, statusCode int) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Debugf("response: write %d bytes: %s", len(body), err)
	}
}
