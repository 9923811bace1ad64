package http

import (
	"net/http"

	"incomes/internal/backup"
)

const defaultBackupLogLimit = 50

// handleTriggerBackup runs the backup job synchronously. The job never
// panics or returns an error; its outcome decides the status.
func (s *Server) handleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	out := s.deps.Backup.Run(r.Context())
	switch {
	case out.Err != nil:
		writeDetail(w, http.StatusInternalServerError, out.Err.Error())
	case out.Skipped:
		writeJSON(w, http.StatusOK, messageResponse{Message: "数据库文件不存在，跳过备份"})
	default:
		writeJSON(w, http.StatusOK, messageResponse{Message: "备份已触发"})
	}
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Backup.List()
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if files == nil {
		files = []backup.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleBackupLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query(), "limit", defaultBackupLogLimit)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if limit < 1 || limit > 500 {
		writeError(w, r, invalidParam("limit must be between 1 and 500"), "")
		return
	}
	logs, err := s.deps.Backup.Records(r.Context(), limit)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	out := make([]backupLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toBackupLogResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}
