package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/middleware"
	"github.com/hitoshi/dailytrio/internal/model"
)

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
// dayが空の場合は今日として扱う。
type AdminServiceInterface interface {
	Randomize(ctx context.Context, caller identity.Identity, day model.Day) (*randomizeResponse, error)
	Delete(ctx context.Context, caller identity.Identity, scope model.WipeScope) (*deleteResponse, error)
	Verify(ctx context.Context, caller identity.Identity, day model.Day) (*verifyResponse, error)
}

// randomizeRequest はrandomizeリクエストのボディ。ボディ自体を省略してもよい。
type randomizeRequest struct {
	Day string `json:"day"`
}

// groupFailureResponse は確定できなかったグループ。
type groupFailureResponse struct {
	Members []string `json:"members"`
	Error   string   `json:"error"`
}

// randomizeResponse はrandomizeのAPIレスポンス。
type randomizeResponse struct {
	Day               string                 `json:"day"`
	Population        int                    `json:"population"`
	TriosWiped        int64                  `json:"trios_wiped"`
	QueueEntriesWiped int64                  `json:"queue_entries_wiped"`
	GroupsAttempted   int                    `json:"groups_attempted"`
	GroupsFormed      int                    `json:"groups_formed"`
	Conflicts         int                    `json:"conflicts"`
	Failures          []groupFailureResponse `json:"failures"`
	PartialSize       int                    `json:"partial_size"`
	UsersGrouped      int                    `json:"users_grouped"`
	Complete          bool                   `json:"complete"`
	Summary           string                 `json:"summary"`
	Trios             []trioResponse         `json:"trios"`
}

// deleteResponse はdeleteのAPIレスポンス。
type deleteResponse struct {
	Scope               string `json:"scope"`
	TriosDeleted        int64  `json:"trios_deleted"`
	QueueEntriesDeleted int64  `json:"queue_entries_deleted"`
}

// memberResponse はverifyで返すメンバー情報。
type memberResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// verifiedTrioResponse はverifyで返すトリオ。
type verifiedTrioResponse struct {
	ID        string           `json:"id"`
	Members   []memberResponse `json:"members"`
	Partial   bool             `json:"partial"`
	CreatedAt time.Time        `json:"created_at"`
}

// verifyResponse はverifyのAPIレスポンス。
type verifyResponse struct {
	Day           string                 `json:"day"`
	Trios         []verifiedTrioResponse `json:"trios"`
	DistinctUsers int                    `json:"distinct_users"`
	PartialTrios  int                    `json:"partial_trios"`
}

// AdminHandler は管理者向け操作のHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// Randomize は指定日（省略時は今日）のトリオを全ユーザーで編成し直す。
// 一部のグループが確定できなかった場合も200を返し、件数をレスポンスに含める。
// POST /api/admin/trios/randomize
func (h *AdminHandler) Randomize(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req randomizeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return
		}
	}

	day, ok := parseOptionalDay(w, req.Day)
	if !ok {
		return
	}

	resp, err := h.service.Randomize(r.Context(), caller, day)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete はscopeで指定した範囲のトリオとキューを削除する。
// scope=day（dayを省略した場合は今日）またはscope=all。
// DELETE /api/admin/trios?scope=day&day=2026-03-01
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	q := r.URL.Query()
	var scope model.WipeScope
	switch s := q.Get("scope"); s {
	case "all":
		if q.Get("day") != "" {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidScopeError("all with day"))
			return
		}
		scope = model.AllDays()
	case "day", "":
		day, ok := parseOptionalDay(w, q.Get("day"))
		if !ok {
			return
		}
		scope = model.DayScope(day)
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidScopeError(s))
		return
	}

	resp, err := h.service.Delete(r.Context(), caller, scope)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Verify は指定日（省略時は今日）のトリオをメンバー情報付きで返す。
// GET /api/admin/trios/verify?day=2026-03-01
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	day, ok := parseOptionalDay(w, r.URL.Query().Get("day"))
	if !ok {
		return
	}

	resp, err := h.service.Verify(r.Context(), caller, day)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseOptionalDay は空文字を許容して暦日を解析する。
// 不正な場合は400を書き込んでfalseを返す。
func parseOptionalDay(w http.ResponseWriter, s string) (model.Day, bool) {
	if s == "" {
		return "", true
	}
	day, err := model.ParseDay(s)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDayError(s))
		return "", false
	}
	return day, true
}
