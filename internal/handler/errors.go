// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/dailytrio/internal/middleware"
	"github.com/hitoshi/dailytrio/internal/model"
)

// statusClientClosedRequest はクライアントが先に切断したリクエストに使う非標準ステータス。
const statusClientClosedRequest = 499

// storeRetryAfter はストア到達不能時にクライアントへ伝える再試行までの時間。
const storeRetryAfter = 2 * time.Second

// apiErrorResponse は統一エラーフォーマットのレスポンス。ミドルウェアと同じ形式を使う。
type apiErrorResponse = middleware.ErrorResponseBody

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, middleware.NewErrorResponseBody(apiErr))
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	statusCode := mapAPIErrorToHTTPStatus(apiErr)

	switch {
	case statusCode == statusClientClosedRequest:
		slog.Debug("request canceled by client", slog.String("error", err.Error()))
	case statusCode >= http.StatusInternalServerError:
		slog.Error("service error", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
	case statusCode == http.StatusConflict:
		slog.Warn("service conflict", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
	}

	if statusCode == http.StatusServiceUnavailable {
		middleware.WriteRetryAfterResponse(w, statusCode, apiErr, storeRetryAfter)
		return
	}
	writeAPIErrorResponse(w, statusCode, apiErr)
}

// toAPIError はドメインエラーを利用者向けのAPIErrorに変換する。
// 分類できないエラーの詳細はログにのみ残し、レスポンスには含めない。
func toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return model.NewCanceledError()
	case errors.Is(err, model.ErrAlreadyQueued):
		return model.NewAlreadyGroupedError(model.ErrCodeAlreadyQueued)
	case errors.Is(err, model.ErrAlreadyGrouped):
		return model.NewAlreadyGroupedError(model.ErrCodeAlreadyGrouped)
	case errors.Is(err, model.ErrConflictingMembership):
		return model.NewConflictError()
	case errors.Is(err, model.ErrInsufficientUsers):
		e := model.NewInsufficientUsersError()
		e.Message = err.Error()
		return e
	case errors.Is(err, model.ErrStoreUnavailable):
		return model.NewStoreUnavailableError()
	case errors.Is(err, model.ErrForbidden):
		return model.NewForbiddenError()
	case errors.Is(err, model.ErrInvalidDay):
		return model.NewInvalidDayError(err.Error())
	default:
		return model.NewInternalError()
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAlreadyQueued, model.ErrCodeAlreadyGrouped, model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeInsufficientUsers:
		return http.StatusUnprocessableEntity
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidDay, model.ErrCodeInvalidScope, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
