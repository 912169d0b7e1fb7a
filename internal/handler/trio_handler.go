package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/dailytrio/internal/middleware"
	"github.com/hitoshi/dailytrio/internal/model"
)

// QueueServiceInterface はトリオハンドラーが必要とするサービスインターフェース。
type QueueServiceInterface interface {
	// Join はユーザーを今日のキューに並べ、可能であればトリオを編成する。
	Join(ctx context.Context, userID string) (*joinResponse, error)
	// Leave はユーザーを今日のキューから外す。冪等。
	Leave(ctx context.Context, userID string) error
	// Status はユーザーの今日の状態を返す。
	Status(ctx context.Context, userID string) (*statusResponse, error)
}

// trioResponse はトリオのAPIレスポンス。
type trioResponse struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"`
	Members   []string  `json:"members"`
	Partial   bool      `json:"partial"`
	CreatedAt time.Time `json:"created_at"`
}

// joinResponse はjoinのAPIレスポンス。
type joinResponse struct {
	Status         string        `json:"status"`
	Day            string        `json:"day"`
	Trio           *trioResponse `json:"trio,omitempty"`
	Position       int           `json:"position,omitempty"`
	QueueSize      int           `json:"queue_size,omitempty"`
	AlreadyGrouped bool          `json:"already_grouped"`
	Message        string        `json:"message"`
}

// statusResponse はstatusのAPIレスポンス。
type statusResponse struct {
	Day        string        `json:"day"`
	InQueue    bool          `json:"in_queue"`
	QueueCount int           `json:"queue_count"`
	Position   int           `json:"position,omitempty"`
	Trio       *trioResponse `json:"trio,omitempty"`
}

// TrioHandler はキュー操作のHTTPハンドラー。
type TrioHandler struct {
	service QueueServiceInterface
}

// NewTrioHandler はTrioHandlerを生成する。
func NewTrioHandler(service QueueServiceInterface) *TrioHandler {
	return &TrioHandler{service: service}
}

// Join はキューへの参加を処理する。
// トリオが確定した場合は200、キューで待機する場合は202を返す。
// POST /api/trio/queue
func (h *TrioHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	resp, err := h.service.Join(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	statusCode := http.StatusOK
	switch {
	case resp.AlreadyGrouped:
		resp.Message = "You're already in today's trio"
	case resp.Trio != nil:
		resp.Message = "You're in a trio!"
	default:
		statusCode = http.StatusAccepted
		resp.Message = waitingMessage(resp.QueueSize)
	}
	writeJSON(w, statusCode, resp)
}

// Leave はキューからの離脱を処理する。キューにいない場合も204を返す。
// DELETE /api/trio/queue
func (h *TrioHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Leave(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status はユーザーの今日の状態を返す。
// GET /api/trio/status
func (h *TrioHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	resp, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// waitingMessage はキュー人数（本人を含む）から待機中の表示文言を作る。
func waitingMessage(queueSize int) string {
	return fmt.Sprintf("Waiting for %d more", max(1, model.TrioSize-queueSize))
}
