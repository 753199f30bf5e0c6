package tts

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, Transient},
		{http.StatusRequestTimeout, Transient},
		{http.StatusInternalServerError, Transient},
		{http.StatusBadGateway, Transient},
		{http.StatusServiceUnavailable, Transient},
		{http.StatusBadRequest, Permanent},
		{http.StatusUnauthorized, Permanent},
		{http.StatusForbidden, Permanent},
		{http.StatusNotFound, Permanent},
		{http.StatusUnprocessableEntity, Permanent},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, classifyStatus(tc.status))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(newTransient("busy", nil)))
	assert.False(t, IsTransient(newPermanent("bad voice", nil)))

	// Classified errors stay classified through wrapping.
	wrapped := fmt.Errorf("synthesize chunk 2: %w", newPermanent("bad voice", nil))
	assert.False(t, IsTransient(wrapped))

	// Unclassified errors get the retry budget.
	assert.True(t, IsTransient(errors.New("connection reset")))
}

func TestErrorSafeMessageOmitsCause(t *testing.T) {
	err := newTransient("speech service is unavailable (status 503)", errors.New("dial tcp 10.0.0.5: i/o timeout"))
	assert.Equal(t, "speech service is unavailable (status 503)", err.SafeMessage())
	assert.Contains(t, err.Error(), "i/o timeout")
}
