package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/logger"
)

type fakeBus struct {
	mu        sync.Mutex
	published []feed.Change
	err       error
}

func (f *fakeBus) Publish(ctx context.Context, change feed.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, change)
	return nil
}

func (f *fakeBus) StartForwarder(ctx context.Context, onChange func(feed.Change)) error {
	return nil
}

func (f *fakeBus) Close() error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	require.NoError(t, err)
	return log
}

func TestPublisherForwardsChanges(t *testing.T) {
	b := &fakeBus{}
	pub := Publisher(b, testLogger(t))

	change := feed.Change{Op: feed.OpInsert, OwnerID: uuid.New(), RecordID: uuid.New()}
	pub.Publish(change)

	require.Len(t, b.published, 1)
	assert.Equal(t, change.RecordID, b.published[0].RecordID)
}

func TestPublisherSurvivesPublishFailure(t *testing.T) {
	b := &fakeBus{err: errors.New("connection refused")}
	pub := Publisher(b, testLogger(t))

	// a failing bus drops the change with a warning; it must never panic
	// or block the repo's write path
	pub.Publish(feed.Change{Op: feed.OpUpdate, OwnerID: uuid.New(), RecordID: uuid.New()})
	assert.Empty(t, b.published)

	b.mu.Lock()
	b.err = nil
	b.mu.Unlock()
	pub.Publish(feed.Change{Op: feed.OpUpdate, OwnerID: uuid.New(), RecordID: uuid.New()})
	assert.Len(t, b.published, 1)
}
