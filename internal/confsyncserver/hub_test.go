package confsyncserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Poll_ImmediateWhenServerAhead(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish("application", 5, nil)

	immediate, wait, _ := hub.Poll([]ClientWatch{{Original: "application", Normalized: "application", ClientID: 1}}, time.Second)
	require.Nil(t, wait)
	require.Len(t, immediate, 1)
	assert.Equal(t, int64(5), immediate[0].NotificationID)
}

func TestHub_Poll_ParksThenWakesOnPublish(t *testing.T) {
	hub := NewHub(nil)

	immediate, wait, _ := hub.Poll([]ClientWatch{{Original: "application", Normalized: "application", ClientID: -1}}, 2*time.Second)
	require.Nil(t, immediate)
	require.NotNil(t, wait)

	go hub.Publish("application", 1, map[string]int64{"k": 1})

	select {
	case result := <-wait:
		require.Len(t, result.Changed, 1)
		assert.Equal(t, "application", result.Changed[0].Namespace)
		assert.Equal(t, int64(1), result.Changed[0].NotificationID)
	case <-time.After(time.Second):
		t.Fatal("expected the parked request to be woken by Publish")
	}

	assert.Equal(t, 0, hub.ParkedCount())
}

func TestHub_Poll_TimesOutWithEmptyResult(t *testing.T) {
	hub := NewHub(nil)

	immediate, wait, _ := hub.Poll([]ClientWatch{{Original: "application", Normalized: "application", ClientID: -1}}, 20*time.Millisecond)
	require.Nil(t, immediate)

	select {
	case result := <-wait:
		assert.Empty(t, result.Changed)
	case <-time.After(time.Second):
		t.Fatal("expected timeout to complete the parked request")
	}
	assert.Equal(t, 0, hub.ParkedCount())
}

func TestHub_Poll_OriginalSpellingPreservedAcrossNormalization(t *testing.T) {
	hub := NewHub(nil)

	immediate, wait, _ := hub.Poll([]ClientWatch{{Original: "application.properties", Normalized: "application", ClientID: -1}}, time.Second)
	require.Nil(t, immediate)

	hub.Publish("application", 2, nil)

	result := <-wait
	require.Len(t, result.Changed, 1)
	assert.Equal(t, "application.properties", result.Changed[0].Namespace)
}

func TestHub_Publish_CompletesExactlyOncePerHandle(t *testing.T) {
	hub := NewHub(nil)

	_, wait, cancel := hub.Poll([]ClientWatch{{Original: "application", Normalized: "application", ClientID: -1}}, time.Second)

	hub.Publish("application", 3, nil)
	cancel()

	result, ok := <-wait
	require.True(t, ok)
	require.Len(t, result.Changed, 1)

	_, ok = <-wait
	assert.False(t, ok, "channel must be closed after exactly one completion")
}
