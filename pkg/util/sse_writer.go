package util

import (
	"encoding/json"
	"fmt"
	"net/http"

	"xiaole-web/internal/app/models"
)

// WriteSSE 写出一帧 data: <json>\n\n 并立即 flush
func WriteSSE(w http.ResponseWriter, ev models.StreamEvent) error {
	bytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", bytes); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func WriteStart(w http.ResponseWriter, meta map[string]interface{}) error {
	return WriteSSE(w, models.StartEvent{Meta: meta})
}

func WriteDelta(w http.ResponseWriter, text string) error {
	return WriteSSE(w, models.DeltaEvent{Text: text})
}

func WriteEnd(w http.ResponseWriter, result models.TurnResult) error {
	return WriteSSE(w, models.EndEvent{Result: result})
}

// SetSSEHeaders 流式输出的响应头
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
