package model

import (
	"errors"
	"fmt"
)

// グルーピング処理が返すドメインエラー。
// 呼び出し側は errors.Is で判定する。
var (
	// ErrAlreadyQueued はユーザーがその日のキューに既に並んでいることを示す。
	ErrAlreadyQueued = errors.New("already queued for this day")
	// ErrAlreadyGrouped はユーザーがその日のトリオに既に所属していることを示す。
	ErrAlreadyGrouped = errors.New("already grouped for this day")
	// ErrConflictingMembership は確定しようとしたグループが他の処理と競合したことを示す。
	// 何も書き込まれていないため、呼び出し側は再試行できる。
	ErrConflictingMembership = errors.New("conflicting membership")
	// ErrInsufficientUsers はランダム再編成に必要な人数に満たないことを示す。
	ErrInsufficientUsers = errors.New("insufficient users")
	// ErrStoreUnavailable はストアへの到達不能やタイムアウトを示す。
	ErrStoreUnavailable = errors.New("grouping store unavailable")
	// ErrForbidden は管理者権限が必要な操作を一般ユーザーが呼び出したことを示す。
	ErrForbidden = errors.New("admin privileges required")
	// ErrInvalidDay は暦日の形式が不正であることを示す。
	ErrInvalidDay = errors.New("invalid day")
	// ErrInvalidGroup はグループの人数やメンバー指定が不正であることを示す。
	ErrInvalidGroup = errors.New("invalid group")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, trio, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyQueued     = "ALREADY_QUEUED"
	ErrCodeAlreadyGrouped    = "ALREADY_GROUPED"
	ErrCodeConflict          = "CONFLICTING_MEMBERSHIP"
	ErrCodeInsufficientUsers = "INSUFFICIENT_USERS"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidDay        = "INVALID_DAY"
	ErrCodeInvalidScope      = "INVALID_SCOPE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeCanceled          = "REQUEST_CANCELED"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Retryable は同じ操作をそのまま再試行すれば成功しうるエラーかを返す。
func (e *APIError) Retryable() bool {
	switch e.Code {
	case ErrCodeConflict, ErrCodeStoreUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// NewAlreadyGroupedError は既にトリオに所属している場合のエラーを生成する。
// キューに並んでいる場合も利用者から見れば同じ状態のため同じ文言を使う。
func NewAlreadyGroupedError(code string) *APIError {
	return &APIError{
		Code:     code,
		Message:  "You're already in today's trio",
		Category: "trio",
		Action:   "Check your status to see today's trio.",
	}
}

// NewConflictError はグループ確定が競合した場合のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "Someone else was grouped at the same time.",
		Category: "trio",
		Action:   "Please try again.",
	}
}

// NewInsufficientUsersError はランダム再編成の人数不足エラーを生成する。
func NewInsufficientUsersError() *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientUsers,
		Message:  fmt.Sprintf("At least %d active users are required to form trios.", TrioSize),
		Category: "trio",
		Action:   "Wait until more users are active, then run randomize again.",
	}
}

// NewStoreUnavailableError はストア到達不能エラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "The grouping service is temporarily unavailable.",
		Category: "system",
		Action:   "Please try again in a few moments.",
	}
}

// NewForbiddenError は管理者権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "This operation requires admin privileges.",
		Category: "auth",
		Action:   "Sign in with an admin account.",
	}
}

// NewUnauthorizedError は呼び出し元を特定できない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Sign-in is required.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewInvalidDayError は不正な暦日指定のエラーを生成する。
func NewInvalidDayError(day string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDay,
		Message:  fmt.Sprintf("Invalid day: %q", day),
		Category: "validation",
		Action:   "Specify the day as YYYY-MM-DD.",
	}
}

// NewInvalidScopeError は不正な削除範囲指定のエラーを生成する。
func NewInvalidScopeError(scope string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScope,
		Message:  fmt.Sprintf("Invalid scope: %q", scope),
		Category: "validation",
		Action:   "Use scope=day (with an optional day) or scope=all.",
	}
}

// NewInvalidRequestError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Invalid request body",
		Category: "validation",
		Action:   "Send a JSON object such as {\"day\": \"YYYY-MM-DD\"} or an empty body.",
	}
}

// NewCanceledError はクライアントが応答を待たずに切断した場合のエラーを生成する。
// 本文はクライアントに届かないことが多いが、ログとメトリクスの分類に使う。
func NewCanceledError() *APIError {
	return &APIError{
		Code:     ErrCodeCanceled,
		Message:  "The request was canceled.",
		Category: "system",
		Action:   "Retry the request if it is still needed.",
	}
}

// NewRateLimitError はレート制限超過のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は分類できないエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again later.",
	}
}
