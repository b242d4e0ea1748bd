package repos

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/types"
)

// capturePublisher records every published change for assertions.
type capturePublisher struct {
	mu      sync.Mutex
	changes []feed.Change
}

func (c *capturePublisher) Publish(change feed.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *capturePublisher) all() []feed.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]feed.Change, len(c.changes))
	copy(out, c.changes)
	return out
}

func newTestRepo(t *testing.T) (FileRecordRepo, *capturePublisher) {
	t.Helper()
	log, err := logger.New("production")
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.FileRecord{}))

	pub := &capturePublisher{}
	return NewFileRecordRepo(db, log, pub), pub
}

func newRecord(owner uuid.UUID, fingerprint string) *types.FileRecord {
	return &types.FileRecord{
		OwnerID:      owner,
		OriginalName: "sample.txt",
		Kind:         types.KindText,
		Fingerprint:  fingerprint,
		Status:       types.FileStatusPending,
	}
}

func TestCreatePublishesInsert(t *testing.T) {
	repo, pub := newTestRepo(t)
	owner := uuid.New()

	rec, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	changes := pub.all()
	require.Len(t, changes, 1)
	assert.Equal(t, feed.OpInsert, changes[0].Op)
	assert.Equal(t, owner, changes[0].OwnerID)
	assert.Equal(t, rec.ID, changes[0].RecordID)
	require.NotNil(t, changes[0].Record)
	assert.Equal(t, types.FileStatusPending, changes[0].Record.Status)
}

func TestUpdateFieldsPublishesFullSnapshot(t *testing.T) {
	repo, pub := newTestRepo(t)
	owner := uuid.New()

	rec, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-2"))
	require.NoError(t, err)

	updated, err := repo.UpdateFields(context.Background(), nil, rec.ID, map[string]interface{}{
		"status":   types.FileStatusProcessing,
		"stage":    types.StageCompression,
		"progress": 25,
	})
	require.NoError(t, err)
	assert.Equal(t, types.FileStatusProcessing, updated.Status)
	require.NotNil(t, updated.Stage)
	assert.Equal(t, types.StageCompression, *updated.Stage)
	assert.Equal(t, 25, updated.Progress)

	changes := pub.all()
	require.Len(t, changes, 2)
	assert.Equal(t, feed.OpUpdate, changes[1].Op)
	require.NotNil(t, changes[1].Record)
	assert.Equal(t, types.FileStatusProcessing, changes[1].Record.Status, "updates carry the post-commit snapshot")
}

func TestUpdateFieldsUnknownID(t *testing.T) {
	repo, pub := newTestRepo(t)

	_, err := repo.UpdateFields(context.Background(), nil, uuid.New(), map[string]interface{}{
		"status": types.FileStatusProcessing,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, pub.all(), "a failed write must not publish")
}

func TestGetByIDScopedToOwner(t *testing.T) {
	repo, _ := newTestRepo(t)
	owner := uuid.New()
	stranger := uuid.New()

	rec, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-3"))
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), nil, owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = repo.GetByID(context.Background(), nil, stranger, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound, "records are invisible across owners")
}

func TestListByOwnerOrderAndFilter(t *testing.T) {
	repo, _ := newTestRepo(t)
	owner := uuid.New()

	older, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-old"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-new"))
	require.NoError(t, err)

	// a write bumps updated_at and therefore the ordering
	time.Sleep(5 * time.Millisecond)
	_, err = repo.UpdateFields(context.Background(), nil, older.ID, map[string]interface{}{
		"status": types.FileStatusReady,
	})
	require.NoError(t, err)

	all, err := repo.ListByOwner(context.Background(), nil, owner, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID, "most recently updated first")
	assert.Equal(t, newer.ID, all[1].ID)

	ready, err := repo.ListByOwner(context.Background(), nil, owner, types.FileStatusReady)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, older.ID, ready[0].ID)

	none, err := repo.ListByOwner(context.Background(), nil, uuid.New(), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindActiveByFingerprintSkipsFailed(t *testing.T) {
	repo, _ := newTestRepo(t)
	owner := uuid.New()

	rec, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-4"))
	require.NoError(t, err)

	found, err := repo.FindActiveByFingerprint(context.Background(), nil, owner, "fp-4")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	// other owners never match
	_, err = repo.FindActiveByFingerprint(context.Background(), nil, uuid.New(), "fp-4")
	assert.ErrorIs(t, err, ErrNotFound)

	// a failed record frees the fingerprint for re-upload
	_, err = repo.UpdateFields(context.Background(), nil, rec.ID, map[string]interface{}{
		"status": types.FileStatusFailed,
	})
	require.NoError(t, err)
	_, err = repo.FindActiveByFingerprint(context.Background(), nil, owner, "fp-4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByIDPublishesRemoval(t *testing.T) {
	repo, pub := newTestRepo(t)
	owner := uuid.New()

	rec, err := repo.Create(context.Background(), nil, newRecord(owner, "fp-5"))
	require.NoError(t, err)

	// wrong owner cannot delete
	err = repo.DeleteByID(context.Background(), nil, uuid.New(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteByID(context.Background(), nil, owner, rec.ID))

	_, err = repo.GetByID(context.Background(), nil, owner, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	changes := pub.all()
	require.Len(t, changes, 2)
	last := changes[len(changes)-1]
	assert.Equal(t, feed.OpDelete, last.Op)
	assert.Equal(t, rec.ID, last.RecordID)
	assert.Nil(t, last.Record, "deletes carry no snapshot")

	// repeated delete is not found
	err = repo.DeleteByID(context.Background(), nil, owner, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
