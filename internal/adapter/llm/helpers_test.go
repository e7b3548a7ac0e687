package llm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"studyportal/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusInternalServerError, domain.ErrGeneration},
		{http.StatusBadGateway, domain.ErrGeneration},
		{http.StatusServiceUnavailable, domain.ErrGeneration},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte("details"))
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		assert.Contains(t, err.Error(), "details")
	}

	// 4xx without a dedicated sentinel stays a plain error.
	err := mapHTTPError(http.StatusBadRequest, []byte("bad request"))
	assert.Error(t, err)
	assert.False(t, domain.IsRetryableError(err))
}
