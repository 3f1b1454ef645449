package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSubscription_SubscribedTo(t *testing.T) {
	sub := WebhookSubscription{Events: []EventName{EventPaymentCompleted, EventPaymentFailed}}

	assert.True(t, sub.SubscribedTo(EventPaymentCompleted))
	assert.True(t, sub.SubscribedTo(EventPaymentFailed))
	assert.False(t, sub.SubscribedTo(EventPaymentRefunded))
}

func TestValidTargetURL(t *testing.T) {
	assert.True(t, ValidTargetURL("https://merchant.example.com/hooks"))
	assert.True(t, ValidTargetURL("http://localhost:9999/cb"))
	assert.False(t, ValidTargetURL("ftp://merchant.example.com"))
	assert.False(t, ValidTargetURL("merchant.example.com/hooks"))
	assert.False(t, ValidTargetURL(""))
	assert.False(t, ValidTargetURL("https://"))
}

func TestNewSubscriptionSecret(t *testing.T) {
	a := NewSubscriptionSecret()
	b := NewSubscriptionSecret()

	assert.True(t, strings.HasPrefix(a, "whsec_"))
	assert.Len(t, a, len("whsec_")+64)
	assert.NotEqual(t, a, b)
}
