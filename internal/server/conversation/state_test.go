package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_AllPhases(t *testing.T) {
	items := []BatchItem{
		{FileRef: "f1", OriginalName: "a.jpg"},
		{FileRef: "f2", OriginalName: "b.png", IsDocument: true},
	}
	tests := []struct {
		name  string
		state State
	}{
		{"idle", Idle{}},
		{"awaiting session id", AwaitingSessionID{}},
		{"awaiting access key", AwaitingAccessKey{SessionID: "WED-0612-01"}},
		{"awaiting prefix", AwaitingPrefix{}},
		{"awaiting description", AwaitingDescription{Prefix: "WED"}},
		{"batch collecting", BatchCollecting{Items: items}},
		{"batch description", BatchDescription{Items: items}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Conversation{
				UserID:       42,
				Active:       &ActiveSession{ID: "uuid-1", SessionID: "WED-0612-01"},
				State:        tt.state,
				LastActivity: time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC),
			}
			raw, err := Marshal(c)
			require.NoError(t, err)

			got, err := Unmarshal(raw)
			require.NoError(t, err)
			assert.Equal(t, c.UserID, got.UserID)
			assert.Equal(t, c.Active, got.Active)
			assert.Equal(t, tt.state, got.State)
			assert.Equal(t, tt.state.Phase(), got.State.Phase())
			assert.True(t, c.LastActivity.Equal(got.LastActivity))
		})
	}
}

func TestMarshal_NilStateIsIdle(t *testing.T) {
	raw, err := Marshal(&Conversation{UserID: 1})
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, Idle{}, got.State)
	assert.Nil(t, got.Active)
}

func TestUnmarshal_UnknownPhase(t *testing.T) {
	_, err := Unmarshal([]byte(`{"user_id":1,"phase":"awaiting_confirmation"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "awaiting_confirmation")
}

func TestUnmarshal_BadJSON(t *testing.T) {
	_, err := Unmarshal([]byte(`{`))
	require.Error(t, err)
}

func TestConversation_ResetKeepsActiveSession(t *testing.T) {
	c := NewConversation(7)
	c.Active = &ActiveSession{ID: "x", SessionID: "A-0101-01"}
	c.State = BatchCollecting{Items: []BatchItem{{FileRef: "f"}}}

	c.Reset()

	assert.Equal(t, Idle{}, c.State)
	require.NotNil(t, c.Active)
	assert.Equal(t, "A-0101-01", c.Active.SessionID)
}
