package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(MsgTypeRequest, SenderOrchestrator, "product_scout", "find bamboo desks")

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, MsgTypeRequest, msg.Type)
	assert.False(t, msg.IsBroadcast())
	assert.False(t, msg.IsForUser())
	require.NoError(t, msg.Validate())

	other := NewMessage(MsgTypeInfo, "a", "b", "")
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestTargets(t *testing.T) {
	assert.True(t, NewMessage(MsgTypeAlert, "x", TargetAll, "").IsBroadcast())
	assert.True(t, NewMessage(MsgTypeInfo, "x", TargetUser, "").IsForUser())
}

func TestCloneCopiesData(t *testing.T) {
	msg := NewMessage(MsgTypeInfo, "a", "b", "hi").WithData(map[string]any{"k": 1})
	c := msg.Clone()
	c.Data["k"] = 2
	assert.Equal(t, 1, msg.Data["k"])
}

func TestValidate(t *testing.T) {
	msg := NewMessage(MsgTypeInfo, "a", "b", "")
	msg.To = ""
	assert.Error(t, msg.Validate())

	msg = NewMessage(MsgType("shout"), "a", "b", "")
	assert.Error(t, msg.Validate())
}

func TestJSONRoundTrip(t *testing.T) {
	msg := NewMessage(MsgTypeProgress, "trend_analyzer", TargetUser, "50%")
	data, err := msg.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Type, got.Type)

	_, err = FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestParseMsgType(t *testing.T) {
	got, err := ParseMsgType(" ALERT ")
	require.NoError(t, err)
	assert.Equal(t, MsgTypeAlert, got)
}

func TestTaskTransitions(t *testing.T) {
	assert.True(t, CanTransition(TaskPending, TaskInProgress))
	assert.True(t, CanTransition(TaskInProgress, TaskCompleted))
	assert.False(t, CanTransition(TaskCompleted, TaskInProgress))
	assert.False(t, CanTransition(TaskPending, TaskCompleted))
	assert.True(t, TaskFailed.IsTerminal())
	assert.False(t, TaskInProgress.IsTerminal())
	assert.True(t, StatusWorking.IsBusy())
	assert.False(t, StatusPaused.IsBusy())
}
