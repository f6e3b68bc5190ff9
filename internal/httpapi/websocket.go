package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mgpai22/sublingo/internal/pipeline"
)

const wsWriteWait = 10 * time.Second

// wsRequest is the single message a client sends after connecting
type wsRequest struct {
	Name           string `json:"name"`
	DisplayMode    string `json:"display_mode"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Content        string `json:"content"`
}

// wsMessage is what the server sends: "event" messages while the job runs,
// then exactly one "result" or "error"
type wsMessage struct {
	Type  string        `json:"type"`
	Event *eventMessage `json:"event,omitempty"`
	*translateResponse
	Error string `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	conn.SetReadLimit(s.maxUpload)
	var req wsRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debugw("WebSocket request unreadable", "error", err)
		return
	}

	write := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg) == nil
	}

	cfg, err := withOverrides(s.cfg, req.DisplayMode, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		write(wsMessage{Type: "error", Error: err.Error()})
		return
	}
	name := req.Name
	if name == "" {
		name = "subtitle.srt"
	}

	// a closed connection cancels the job
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	job := s.orch.NewJob(name, []byte(req.Content), cfg)
	s.logger.Infow("WebSocket translation requested",
		"job", job.ID,
		"file", name,
		"bytes", len(req.Content),
	)
	for ev := range job.Run(ctx) {
		msg := newEventMessage(ev)
		if !write(wsMessage{Type: "event", Event: &msg}) {
			return
		}
	}

	summary := job.Summary()
	if summary.State == pipeline.StateFailed {
		write(wsMessage{Type: "error", Error: summary.Error})
		return
	}
	write(wsMessage{Type: "result", translateResponse: &translateResponse{
		TranslatedSRT: string(job.Output()),
		Format:        job.Format(),
		Summary:       summary,
	}})
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
}
