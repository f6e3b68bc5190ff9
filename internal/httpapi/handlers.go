package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/mgpai22/sublingo/internal/bundle"
	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/pipeline"
	"github.com/mgpai22/sublingo/internal/subtitle"
)

type translateResponse struct {
	TranslatedSRT string            `json:"translated_srt"`
	Format        subtitle.Format   `json:"format"`
	Summary       *pipeline.Summary `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
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

	job := s.runJob(r, uploads[0], cfg)
	summary := job.Summary()
	if summary.State == pipeline.StateFailed {
		writeError(w, http.StatusUnprocessableEntity, summary.Error)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		TranslatedSRT: string(job.Output()),
		Format:        job.Format(),
		Summary:       summary,
	})
}

// handleTranslateBatch translates every uploaded file and answers with a
// zip of the ones that could be parsed.
func (s *Server) handleTranslateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cfg, err := s.jobConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uploads, err := s.readUploads(w, r, "files")
	if err != nil {
		writeError(w, uploadStatus(err), err.Error())
		return
	}

	var files []bundle.File
	for _, u := range uploads {
		job := s.runJob(r, u, cfg)
		if job.Summary().State == pipeline.StateFailed {
			continue
		}
		files = append(files, bundle.File{Name: u.name, Data: job.Output()})
	}
	if r.Context().Err() != nil {
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no file could be translated")
		return
	}

	var buf bytes.Buffer
	if err := bundle.Write(&buf, files); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+bundle.ArchiveName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// runs a job to completion, logging each settled batch
func (s *Server) runJob(r *http.Request, u upload, cfg config.Config) *pipeline.Job {
	job := s.orch.NewJob(u.name, u.raw, cfg)
	s.logger.Infow("Translation requested",
		"job", job.ID,
		"file", u.name,
		"bytes", len(u.raw),
	)
	for range job.Run(r.Context()) {
	}
	return job
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
