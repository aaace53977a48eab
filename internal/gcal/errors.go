package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/calendarbridge/internal/model"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// 資格情報の失効・取り消しを示すトークンエンドポイントのエラーコード
var expiredGrantCodes = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
}

// 403のうち認可の問題を示す理由
var authForbiddenReasons = map[string]bool{
	"authError":               true,
	"insufficientPermissions": true,
}

// Classify はリモート呼び出しのエラーをエラー分類に変換する。
//   - リフレッシュ資格情報の失効・取り消し、API側の認可失敗: CREDENTIAL_EXPIRED
//   - 404/410: REMOTE_NOT_FOUND
//   - それ以外: UPSTREAM_ERROR
//
// 元のエラーはメッセージにのみ残し、errors.Asで取り出せるのは分類後の*model.APIErrorとする。
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if expiredGrantCodes[retrieveErr.ErrorCode] || retrieveStatus(retrieveErr) == http.StatusUnauthorized {
			return fmt.Errorf("refresh credential rejected: %v: %w", err, model.NewCredentialExpiredError())
		}
		return fmt.Errorf("token refresh failed: %v: %w", err, model.NewUpstreamError())
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("remote authorization failed: %v: %w", err, model.NewCredentialExpiredError())
		case apiErr.Code == http.StatusForbidden && hasAuthReason(apiErr):
			return fmt.Errorf("remote authorization failed: %v: %w", err, model.NewCredentialExpiredError())
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("remote resource not found: %v: %w", err, model.NewRemoteNotFoundError(""))
		}
		return fmt.Errorf("remote call failed: %v: %w", err, model.NewUpstreamError())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("remote call timed out: %v: %w", err, model.NewUpstreamError())
	}
	return fmt.Errorf("remote call failed: %v: %w", err, model.NewUpstreamError())
}

func hasAuthReason(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		if authForbiddenReasons[item.Reason] {
			return true
		}
	}
	return false
}

func retrieveStatus(e *oauth2.RetrieveError) int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
