package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackScriptedFailures(t *testing.T) {
	lb := NewLoopback(nil)
	lb.FailNext(1, errors.New("refused"))
	rec := newRecorder()

	require.NoError(t, lb.Connect(context.Background(), mechanic42, rec.listener()))
	assert.EqualError(t, waitFor(t, rec.errs), "refused")
	waitFor(t, rec.closed)
	assert.False(t, lb.Connected())

	require.NoError(t, lb.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)
	assert.True(t, lb.Connected())
	assert.Equal(t, 2, lb.Connects())
}

func TestLoopbackPublishAndDrop(t *testing.T) {
	lb := NewLoopback(nil)
	rec := newRecorder()
	d := "/queue/notifications/mechanic/42"

	_, err := lb.Subscribe(d, func([]byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, lb.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)

	var got []string
	unsub, err := lb.Subscribe(d, func(b []byte) { got = append(got, string(b)) })
	require.NoError(t, err)
	assert.Equal(t, 1, lb.Publish(d, []byte("a")))
	unsub()
	assert.Zero(t, lb.Publish(d, []byte("b")))
	assert.Equal(t, []string{"a"}, got)

	_, err = lb.Subscribe(d, func([]byte) {})
	require.NoError(t, err)
	lb.Drop(nil)
	assert.ErrorIs(t, waitFor(t, rec.closed), errConnClosed)
	assert.Zero(t, lb.Subscriptions(d))
}

func TestLoopbackCancelledDialFails(t *testing.T) {
	lb := NewLoopback(nil)
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, lb.Connect(ctx, mechanic42, rec.listener()))
	assert.ErrorIs(t, waitFor(t, rec.errs), context.Canceled)
	waitFor(t, rec.closed)
	assert.False(t, lb.Connected())
}
