package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mgpai22/sublingo/internal/pipeline"
)

// eventMessage is the wire form of a pipeline event
type eventMessage struct {
	pipeline.Event
	Error string `json:"error,omitempty"`
}

func newEventMessage(ev pipeline.Event) eventMessage {
	msg := eventMessage{Event: ev}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

func (s *Server) handleTranslateStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cfg, err := s.jobConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uploads, err := s.readUploads(w, r, "file")
	if err != nil {
		writeError(w, uploadStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if event != "" {
			if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
				return false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	u := uploads[0]
	job := s.orch.NewJob(u.name, u.raw, cfg)
	s.logger.Infow("Streaming translation requested",
		"job", job.ID,
		"file", u.name,
		"bytes", len(u.raw),
	)
	for ev := range job.Run(r.Context()) {
		if !send("", newEventMessage(ev)) {
			// client went away; leaving the loop cancels the job
			return
		}
	}

	summary := job.Summary()
	if summary.State == pipeline.StateFailed {
		send("error", map[string]string{"error": summary.Error})
		return
	}
	send("result", translateResponse{
		TranslatedSRT: string(job.Output()),
		Format:        job.Format(),
		Summary:       summary,
	})
}
