package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/septivank/hue-event-logger/internal/tail"
)

// sseEmitter writes tail frames as server-sent events, one data line each.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Emit(f tail.Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", body); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
