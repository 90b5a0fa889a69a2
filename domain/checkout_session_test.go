package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckoutSession_Discardable(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	tests := []struct {
		name    string
		session CheckoutSession
		want    bool
	}{
		{"pending", CheckoutSession{Status: SessionStatusPending, ExpiresAt: future}, false},
		{"pending expired", CheckoutSession{Status: SessionStatusPending, ExpiresAt: past}, true},
		{"marked expired", CheckoutSession{Status: SessionStatusExpired, ExpiresAt: future}, true},
		{"failed", CheckoutSession{Status: SessionStatusFailed, ExpiresAt: future}, true},
		{"completed", CheckoutSession{Status: SessionStatusCompleted, ExpiresAt: future}, false},
		{"completed past expiry", CheckoutSession{Status: SessionStatusCompleted, ExpiresAt: past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.Discardable(now))
		})
	}
}
