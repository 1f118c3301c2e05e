package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stonecat/internal/core"
	"github.com/JonMunkholm/stonecat/internal/logging"
	"github.com/JonMunkholm/stonecat/internal/oplog"
)

// formOverhead is allowed on top of the file size for multipart framing
// and the option fields.
const formOverhead = 1 << 20

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"runs":   s.service.LimiterStatus(),
	})
}

// handleListEntities returns every importable entity type with its columns.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Entities())
}

// handleDownloadTemplate serves the CSV template for an entity type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	blob, err := s.service.Template(chi.URLParam(r, "entityType"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeBlob(w, blob)
}

// readImportRequest pulls the uploaded file and its options from a
// multipart form. The returned closer releases the form's temp files.
func (s *Server) readImportRequest(w http.ResponseWriter, r *http.Request) (core.ImportRequest, func(), error) {
	noop := func() {}
	entityType := chi.URLParam(r, "entityType")

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return core.ImportRequest{}, noop, errors.Wrap(core.ErrFileTooLarge, "upload")
		}
		return core.ImportRequest{}, noop, invalidInput(errors.Wrap(err, "invalid form"))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.ImportRequest{}, noop, invalidInput(errors.New("no file provided"))
	}
	closer := func() {
		file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	req := core.ImportRequest{
		EntityType:    entityType,
		FileName:      header.Filename,
		Reader:        file,
		Delimiter:     r.FormValue("delimiter"),
		Encoding:      r.FormValue("encoding"),
		HierarchyMode: r.FormValue("hierarchyMode"),
	}
	if v := r.FormValue("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			closer()
			return core.ImportRequest{}, noop, invalidInput(errors.Newf("concurrency must be a positive number, got %q", v))
		}
		req.Concurrency = n
	}
	return req, closer, nil
}

// handleValidate runs a dry validation of an uploaded file.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, closeForm, err := s.readImportRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer closeForm()

	report, err := s.service.ValidateFile(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, report)
}

// handleImport starts an import. By default the run continues in the
// background and the response carries its id; with ?wait=true the request
// blocks until the run finishes (bounded by the request timeout).
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	req, closeForm, err := s.readImportRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer closeForm()

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, err := s.service.Import(r.Context(), req, nil)
		switch {
		case err == nil:
			writeJSON(w, res)
		case res != nil && (errors.Is(err, core.ErrValidationFailed) || errors.Is(err, core.ErrRunCancelled)):
			// The result already describes what went wrong row by row.
			writeJSONStatus(w, statusFor(err), res)
		default:
			s.respondError(w, r, err, 0)
		}
		return
	}

	logID, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("import started",
		"log_id", logID, "entity_type", req.EntityType, "file", req.FileName)

	w.Header().Set("Location", "/api/runs/"+logID)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"logId": logID})
}

// runStatus is the snapshot served for a run.
type runStatus struct {
	Log      oplog.Log      `json:"log"`
	Progress *core.Progress `json:"progress,omitempty"`
	Active   bool           `json:"active"`
}

// handleRunStatus returns the log of a run plus its live progress while the
// run is still tracked.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	l, err := s.service.GetLog(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	status := runStatus{Log: l, Active: !l.Status.IsTerminal()}
	if p, err := s.service.Progress(runID); err == nil {
		status.Progress = &p
	}
	writeJSON(w, status)
}

// handleRunEvents streams run progress via Server-Sent Events. The stream
// ends with a "complete" event carrying the final log.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	updates, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil {
			logging.FromContext(r.Context()).Debug("sse flush failed", "error", err)
		}
	}

	for {
		select {
		case p, ok := <-updates:
			if !ok {
				final, _ := s.service.GetLog(runID)
				data, _ := json.Marshal(final)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flush()
				return
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Processed, data)
			flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancelRun cancels a running import.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "runID")); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// exportBody is the JSON body of an export request. Every field is optional.
type exportBody struct {
	Format          string   `json:"format"`
	IncludeHeaders  *bool    `json:"includeHeaders"`
	Delimiter       string   `json:"delimiter"`
	CustomFields    []string `json:"customFields"`
	DateLayout      string   `json:"dateLayout"`
	IncludeMetadata *bool    `json:"includeMetadata"`
	Pretty          bool     `json:"pretty"`
	FileName        string   `json:"fileName"`
	Save            bool     `json:"save"`
}

func (b exportBody) request(entityType string) (core.ExportRequest, error) {
	req := core.ExportRequest{
		EntityType: entityType,
		Format:     strings.ToLower(b.Format),
		CSV:        core.DefaultCSVOptions(),
		JSON:       core.JSONOptions{IncludeMetadata: true, Pretty: b.Pretty, FileName: b.FileName},
		Save:       b.Save,
	}
	if b.IncludeHeaders != nil {
		req.CSV.IncludeHeaders = *b.IncludeHeaders
	}
	if b.IncludeMetadata != nil {
		req.JSON.IncludeMetadata = *b.IncludeMetadata
	}
	if b.Delimiter != "" {
		d, err := core.ParseDelimiter(b.Delimiter)
		if err != nil {
			return core.ExportRequest{}, err
		}
		req.CSV.Delimiter = d
	}
	if b.DateLayout != "" {
		req.CSV.DateLayout = b.DateLayout
	}
	req.CSV.CustomFields = b.CustomFields
	req.CSV.FileName = b.FileName
	return req, nil
}

// handleExport exports every entity of a type. The blob is returned as a
// download unless "save" is set, in which case it is written to the
// configured sink and the response describes where it went.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body exportBody
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, r, invalidInput(errors.Wrap(err, "invalid export options")), 0)
			return
		}
	}
	req, err := body.request(chi.URLParam(r, "entityType"))
	if err != nil {
		s.respondError(w, r, invalidInput(err), 0)
		return
	}

	res, err := s.service.Export(r.Context(), req)
	if err != nil {
		if res != nil {
			w.Header().Set("X-Log-Id", res.LogID)
		}
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("X-Log-Id", res.LogID)
	if req.Save {
		writeJSON(w, res)
		return
	}
	writeBlob(w, res.Blob)
}

// handleListLogs returns every operation log, newest first.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.service.Logs()
	if op := r.URL.Query().Get("operation"); op != "" {
		filtered := logs[:0]
		for _, l := range logs {
			if string(l.Operation) == op {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	writeJSON(w, logs)
}

// handleGetLog returns one operation log.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	l, err := s.service.GetLog(chi.URLParam(r, "logID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, l)
}

// handleExportLogs downloads the whole history as JSON.
func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	blob, err := s.service.ExportLogs()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeBlob(w, blob)
}

// handleClearLogs deletes the history.
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearLogs(r.Context()); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeBlob sends a blob as a file download.
func writeBlob(w http.ResponseWriter, blob *core.Blob) {
	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, blob.Name))
	_, _ = w.Write(blob.Data)
}
