package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingCode       = "MISSING_CODE"
	ErrCodeAuthorization     = "AUTHORIZATION_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeCredentialExpired = "CREDENTIAL_EXPIRED"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeRemoteNotFound    = "REMOTE_NOT_FOUND"
	ErrCodeInvalidRange      = "INVALID_RANGE"
	ErrCodeInvalidEvent      = "INVALID_EVENT"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewMissingCodeError は認可コード未指定エラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "Authorization code must be provided",
		Category: "auth",
		Action:   "Start the login flow again.",
	}
}

// NewAuthorizationError はIdPが認可を拒否した場合のエラーを生成する。
func NewAuthorizationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorization,
		Message:  fmt.Sprintf("Authorization error: %s", reason),
		Category: "auth",
		Action:   "Start the login flow again.",
	}
}

// NewUnauthorizedError はセッション資格情報が無効な場合のエラーを生成する。
// 失敗理由はオラクル攻撃を避けるため含めない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Log in.",
	}
}

// NewCredentialExpiredError は委任アクセスが失効・取り消された場合のエラーを生成する。
// セッション切れとは区別され、クライアントは再ログインを行う。
func NewCredentialExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialExpired,
		Message:  "Token expired",
		Category: "auth",
		Action:   "Log in again to grant calendar access.",
	}
}

// NewUserNotFoundError はユーザーまたはその委任資格情報が見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewRemoteNotFoundError はリモートカレンダー上にイベントが存在しない場合のエラーを生成する。
func NewRemoteNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteNotFound,
		Message:  fmt.Sprintf("Event not found: %s", eventID),
		Category: "calendar",
		Action:   "Reload the event list.",
	}
}

// NewInvalidRangeError は開始時刻が終了時刻より後の場合のエラーを生成する。
func NewInvalidRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRange,
		Message:  "Event start must not be after its end",
		Category: "validation",
		Action:   "Fix the start and end times.",
	}
}

// NewInvalidEventError はイベントの入力が不正な場合のエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("Invalid event: %s", reason),
		Category: "validation",
		Action:   "Check the event fields.",
	}
}

// NewForbiddenError はセッションの本人以外のリソースへのアクセスを拒否するエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Forbidden",
		Category: "auth",
		Action:   "You can only access your own calendar.",
	}
}

// NewUpstreamError はリモートAPIの想定外の失敗を表すエラーを生成する。
// 詳細はログにのみ記録する。
func NewUpstreamError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  "Server error",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
