package http

import (
	"net/http"

	"incomes/internal/core"
	"incomes/internal/services"
)

const (
	sourceNotFound = "来源不存在"
	recordNotFound = "记录不存在"
)

// Sources

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := queryBool(r.URL.Query(), "include_inactive")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	sources, err := s.deps.Income.ListSources(r.Context(), currentUser(r.Context()).ID, includeInactive)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	out := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, toSourceResponse(src))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	src := core.IncomeSource{
		UserID:    currentUser(r.Context()).ID,
		Name:      req.Name,
		Active:    true,
		SortOrder: req.SortOrder,
	}
	if req.Icon != nil {
		src.Icon = *req.Icon
	}
	created, err := s.deps.Income.CreateSource(r.Context(), src)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(created))
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req sourceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	updated, err := s.deps.Income.UpdateSource(r.Context(), currentUser(r.Context()).ID, id, services.SourcePatch{
		Name:      req.Name,
		Icon:      req.Icon,
		Active:    req.IsActive,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		writeError(w, r, err, sourceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(updated))
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if err := s.deps.Income.DeleteSource(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		writeError(w, r, err, sourceNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Records

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseRecordFilter(q)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	page, err := queryInt(q, "page", 1)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	pageSize, err := queryInt(q, "page_size", services.DefaultPageSize)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if page < 1 {
		writeError(w, r, invalidParam("page must be at least 1"), "")
		return
	}
	if pageSize < 1 || pageSize > services.MaxPageSize {
		writeError(w, r, invalidParam("page_size must be between 1 and 100"), "")
		return
	}

	result, err := s.deps.Income.ListRecords(r.Context(), currentUser(r.Context()).ID, filter, page, pageSize)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, recordPageResponse{
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
		Items:    toRecordResponses(result.Items),
	})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if req.Amount == nil {
		writeError(w, r, invalidParam("amount is required"), "")
		return
	}
	if req.RecordDate == nil {
		writeError(w, r, invalidParam("record_date is required"), "")
		return
	}
	rec := core.IncomeRecord{
		UserID:   currentUser(r.Context()).ID,
		SourceID: req.SourceID,
		Amount:   *req.Amount,
		Date:     *req.RecordDate,
	}
	if req.Note != nil {
		rec.Note = *req.Note
	}
	created, err := s.deps.Income.CreateRecord(r.Context(), rec)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(created))
}

// handleUpdateRecord applies the fields present in the body.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req recordUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}

	userID := currentUser(r.Context()).ID
	rec, err := s.deps.Income.GetRecord(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err, recordNotFound)
		return
	}
	if req.SourceID != nil {
		rec.SourceID = *req.SourceID
	}
	if req.Amount != nil {
		rec.Amount = *req.Amount
	}
	if req.RecordDate != nil {
		rec.Date = *req.RecordDate
	}
	if req.Note != nil {
		rec.Note = *req.Note
	}

	updated, err := s.deps.Income.UpdateRecord(r.Context(), rec)
	if err != nil {
		writeError(w, r, err, recordNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(updated))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if err := s.deps.Income.DeleteRecord(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		writeError(w, r, err, recordNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Statistics

func (s *Server) handleYearlyTrend(w http.ResponseWriter, r *http.Request) {
	year, err := requiredQueryInt(r.URL.Query(), "year")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	months, err := s.deps.Income.YearlyTrend(r.Context(), currentUser(r.Context()).ID, year)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	out := make([]trendItem, 0, len(months))
	for _, m := range months {
		out = append(out, trendItem{Month: m.Month, Total: m.Total})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMonthlyBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := requiredQueryInt(q, "year")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	month, err := requiredQueryInt(q, "month")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	shares, err := s.deps.Income.MonthlyBreakdown(r.Context(), currentUser(r.Context()).ID, year, month)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	out := make([]breakdownItem, 0, len(shares))
	for _, sh := range shares {
		out = append(out, breakdownItem{
			SourceID:   sh.SourceID,
			SourceName: sh.SourceName,
			Total:      sh.Total,
			Percentage: sh.Percentage,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnnualTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.deps.Income.AnnualTotals(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	out := make([]yearTotalItem, 0, len(totals))
	for _, t := range totals {
		out = append(out, yearTotalItem{Year: t.Year, Total: t.Total})
	}
	writeJSON(w, http.StatusOK, out)
}
