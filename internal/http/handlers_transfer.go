package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"incomes/internal/csvio"
	"incomes/internal/log"
)

// handleExport streams the filtered records as a CSV attachment.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	user := currentUser(r.Context())
	records, err := s.deps.Income.ExportRecords(r.Context(), user.ID, filter)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	// Encode to a buffer first so an encoding failure can still become a JSON error.
	var buf bytes.Buffer
	if err := csvio.Encode(&buf, records); err != nil {
		writeError(w, r, fmt.Errorf("encode export: %w", err), "")
		return
	}

	filename := fmt.Sprintf("incomes_%s.csv", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	log.FromContext(r.Context()).WithComponent(log.ComponentIncome).InfoContext(r.Context(), "Records exported",
		log.FieldOperation, log.OpExport,
		"count", len(records))
}

// handleImport reads the multipart "file" field and reconciles it into the
// user's records.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxImportSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(s.opts.MaxImportSizeBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "文件过大")
			return
		}
		writeError(w, r, invalidParam("multipart form with a file field is required"), "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, invalidParam("file is required"), "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxImportSizeBytes+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("read upload: %w", err), "")
		return
	}
	if int64(len(data)) > s.opts.MaxImportSizeBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, "文件过大")
		return
	}

	user := currentUser(r.Context())
	result, err := s.deps.Import.Import(r.Context(), user.ID, data)
	if err != nil {
		if errors.Is(err, csvio.ErrUndecodable) {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("文件解析失败: %v", err))
			return
		}
		writeError(w, r, err, "")
		return
	}
	if result.Imported > 0 {
		s.deps.Income.InvalidateStats(user.ID)
	}
	writeJSON(w, http.StatusOK, result)
}
