package notification

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/config"
)

func TestRecipientsExcludesActor(t *testing.T) {
	payload := PushPayload{
		UserUUIDs:   []string{"u1", "u2", "u3"},
		ExcludeUUID: "u2",
	}
	assert.Equal(t, []string{"u1", "u3"}, payload.Recipients())

	payload.ExcludeUUID = ""
	assert.Equal(t, []string{"u1", "u2", "u3"}, payload.Recipients())
}

func TestSendPushNoProviderConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	err := SendPush(context.Background(), &PushPayload{UserUUIDs: []string{"u1"}})
	assert.NoError(t, err)
}

func TestSendPushSwallowsProviderFailure(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Notification: config.Notification{
			Push: config.PushConfig{Url: "https://push.test/send"},
		},
	})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://push.test/send",
		httpmock.NewStringResponder(500, `{}`))

	err := SendPush(context.Background(), &PushPayload{
		UserUUIDs: []string{"u1"},
		Title:     "New offer",
	})
	require.NoError(t, err, "push delivery is best effort")
}

func TestSendPushAllRecipientsExcluded(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Notification: config.Notification{
			Push: config.PushConfig{Url: "https://push.test/send"},
		},
	})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	err := SendPush(context.Background(), &PushPayload{
		UserUUIDs:   []string{"u1"},
		ExcludeUUID: "u1",
	})
	require.NoError(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())
}
