package ingestion

import (
	"context"
	"testing"

	"github.com/poiesic/podhub/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterArchiver_ArchiveAndReplay(t *testing.T) {
	repos := setupRepos(t)
	publisher := newTestPublisher()
	a, err := NewDeadLetterArchiver(repos.DeadLetters, publisher, testItemTopic, nil)
	require.NoError(t, err)
	ctx := context.Background()

	good := itemMessage(t, "pod-1", "item-1", "hello")
	dead := newTestMessage(testDLQTopic, good.key, good.value)
	a.Handle(ctx, dead)
	assert.True(t, dead.isAcked())

	garbage := newTestMessage(testDLQTopic, "item-2", []byte("garbage"))
	a.Handle(ctx, garbage)

	letters, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "item-1", letters[0].Key)
	assert.Equal(t, string(good.value), letters[0].Payload)
	assert.Equal(t, testItemTopic, letters[0].Topic)
	assert.Equal(t, "processing failed", letters[0].Reason)
	assert.Contains(t, letters[1].Reason, "malformed")

	require.NoError(t, a.Replay(ctx, letters[0].ID))
	replayed := publisher.on(testItemTopic)
	require.Len(t, replayed, 1)
	assert.Equal(t, "item-1", replayed[0].key)
	assert.Equal(t, good.value, replayed[0].value)

	_, err = repos.DeadLetters.GetDeadLetter(ctx, letters[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeadLetterArchiver_ReplayFailureKeepsLetter(t *testing.T) {
	repos := setupRepos(t)
	publisher := newTestPublisher()
	publisher.failOn(testItemTopic)
	a, err := NewDeadLetterArchiver(repos.DeadLetters, publisher, testItemTopic, nil)
	require.NoError(t, err)
	ctx := context.Background()

	a.Handle(ctx, newTestMessage(testDLQTopic, "k", []byte("x")))
	letters, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	assert.Error(t, a.Replay(ctx, letters[0].ID))
	_, err = repos.DeadLetters.GetDeadLetter(ctx, letters[0].ID)
	assert.NoError(t, err)
}

func TestDeadLetterArchiver_ReplayAll(t *testing.T) {
	repos := setupRepos(t)
	publisher := newTestPublisher()
	a, err := NewDeadLetterArchiver(repos.DeadLetters, publisher, testItemTopic, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		a.Handle(ctx, newTestMessage(testDLQTopic, k, []byte(k)))
	}
	n, err := a.ReplayAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, publisher.on(testItemTopic), 3)

	letters, err := a.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestDeadLetterArchiver_ReplayMissing(t *testing.T) {
	repos := setupRepos(t)
	a, err := NewDeadLetterArchiver(repos.DeadLetters, newTestPublisher(), testItemTopic, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Replay(context.Background(), "missing"), storage.ErrNotFound)
}
