package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/hitoshi/calendarbridge/internal/model"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "invalid_grant inside url.Error",
			err:      &url.Error{Op: "Get", URL: "https://example.com", Err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}},
			wantCode: model.ErrCodeCredentialExpired,
		},
		{
			name:     "token endpoint 401",
			err:      &oauth2.RetrieveError{Response: &http.Response{StatusCode: 401}},
			wantCode: model.ErrCodeCredentialExpired,
		},
		{
			name:     "token endpoint 503",
			err:      &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}},
			wantCode: model.ErrCodeUpstream,
		},
		{
			name:     "api 401",
			err:      &googleapi.Error{Code: 401},
			wantCode: model.ErrCodeCredentialExpired,
		},
		{
			name:     "api 404",
			err:      &googleapi.Error{Code: 404},
			wantCode: model.ErrCodeRemoteNotFound,
		},
		{
			name:     "api 410",
			err:      &googleapi.Error{Code: 410},
			wantCode: model.ErrCodeRemoteNotFound,
		},
		{
			name:     "api 403 quota",
			err:      &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}},
			wantCode: model.ErrCodeUpstream,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("wrapped: %w", context.DeadlineExceeded),
			wantCode: model.ErrCodeUpstream,
		},
		{
			name:     "anything else",
			err:      errors.New("connection reset"),
			wantCode: model.ErrCodeUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !model.HasCode(got, tt.wantCode) {
				t.Errorf("Classify() = %v, want code %s", got, tt.wantCode)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) must be nil")
	}
}
