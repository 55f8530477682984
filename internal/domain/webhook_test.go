package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestRetryDelayDoublesUpToTheCap(t *testing.T) {
	assert.Equal(t, time.Second, domain.RetryDelay(0))
	assert.Equal(t, 2*time.Second, domain.RetryDelay(1))
	assert.Equal(t, 4*time.Second, domain.RetryDelay(2))
	assert.Equal(t, 2048*time.Second, domain.RetryDelay(11))
}

func TestRetryDelayCapsAtAttemptEleven(t *testing.T) {
	assert.Equal(t, domain.RetryDelay(11), domain.RetryDelay(12))
	assert.Equal(t, domain.RetryDelay(11), domain.RetryDelay(100))
}
