package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{30, 60 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("missing relay credentials")

	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	perm := Permanent(base)
	assert.True(t, IsPermanent(perm))
	assert.ErrorIs(t, perm, base)
	assert.Equal(t, base.Error(), perm.Error())

	wrapped := fmt.Errorf("buy job: %w", perm)
	assert.True(t, IsPermanent(wrapped))
}

func TestShouldRetry(t *testing.T) {
	msg := &Message{Attempt: 1, MaxAttempts: 3}
	assert.False(t, shouldRetry(msg, nil))
	assert.True(t, shouldRetry(msg, errors.New("rpc timeout")))
	assert.False(t, shouldRetry(msg, Permanent(errors.New("config"))))

	msg.Attempt = 3
	assert.False(t, shouldRetry(msg, errors.New("rpc timeout")))
}
