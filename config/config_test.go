package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fundi-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{
		"data_source": {"dns": "postgres://localhost:5432/fundi"},
		"redis": {"dns": "localhost:6379"}
	}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, InitConfig(f.Name()))

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "Fundi Server", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "https://api.paystack.co", cnf.Gateway.BaseUrl)
	assert.Equal(t, 24, cnf.Ledger.MaturationHours)
	assert.Equal(t, 30, cnf.Reconciliation.StuckAfterMin)
	assert.Equal(t, 3, cnf.Conversation.CancellationChances)
	assert.Equal(t, "notification_queue", cnf.Queue.NotificationQueue)
}

func TestInitConfigMissingDataSource(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fundi-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"redis": {"dns": "localhost:6379"}}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Error(t, InitConfig(f.Name()))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FUNDI_SERVER_PORT", "6000")
	t.Setenv("FUNDI_DATA_SOURCE_DNS", "postgres://localhost:5432/fundi")
	t.Setenv("FUNDI_REDIS_DNS", "localhost:6379")

	require.NoError(t, InitConfig("does-not-exist.json"))

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "6000", cnf.Server.Port)
}
