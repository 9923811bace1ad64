package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"incomes/internal/auth"
	"incomes/internal/core"
	"incomes/internal/log"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// errorMapping translates a domain error into a status and client message.
// An empty detail means the error text is shown as is.
type errorMapping struct {
	err    error
	status int
	detail string
}

var errorMappings = []errorMapping{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "用户名或密码错误"},
	{auth.ErrAccountDisabled, http.StatusForbidden, "账号已被禁用"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "登录状态无效，请重新登录"},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "登录已过期，请重新登录"},
	{auth.ErrWrongPassword, http.StatusBadRequest, "原密码错误"},
	{auth.ErrPasswordTooShort, http.StatusBadRequest, "新密码长度不得少于 6 位"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, ""},

	{core.ErrDuplicateSource, http.StatusBadRequest, "来源名称已存在"},
	{core.ErrSourceInUse, http.StatusBadRequest, "该来源下存在收入记录，无法删除。请先删除相关记录或改用停用操作。"},
	{core.ErrUnknownSource, http.StatusBadRequest, "收入来源不存在"},

	{core.ErrInvalidAmount, http.StatusUnprocessableEntity, "amount must be greater than 0"},
	{core.ErrInvalidDate, http.StatusUnprocessableEntity, "record_date must be a valid YYYY-MM-DD date"},
	{core.ErrInvalidDay, http.StatusUnprocessableEntity, ""},
	{core.ErrInvalidMonth, http.StatusUnprocessableEntity, "month must be between 1 and 12"},
	{core.ErrEmptySourceName, http.StatusUnprocessableEntity, "name must not be empty"},
	{core.ErrSourceNameTooLong, http.StatusUnprocessableEntity, ""},
	{core.ErrNoteTooLong, http.StatusUnprocessableEntity, ""},
}

// badRequest is a client error whose message is shown verbatim.
type badRequest struct {
	status int
	msg    string
}

func (e *badRequest) Error() string { return e.msg }

func invalidParam(msg string) error {
	return &badRequest{status: http.StatusUnprocessableEntity, msg: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeError maps err to a response. notFound is the detail used for
// core.ErrNotFound. Unmapped errors are logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var br *badRequest
	if errors.As(err, &br) {
		writeDetail(w, br.status, br.msg)
		return
	}
	if errors.Is(err, core.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, notFound)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			detail := m.detail
			if detail == "" {
				detail = m.err.Error()
			}
			if m.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeDetail(w, m.status, detail)
			return
		}
	}

	log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path,
		log.FieldError, err)
	writeDetail(w, http.StatusInternalServerError, "服务器内部错误")
}
