package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/types"
)

var (
	ErrNotFound = errors.New("file record not found")
	// ErrDuplicateContent surfaces the store-level unique index on
	// (owner_id, fingerprint) for non-failed records.
	ErrDuplicateContent = errors.New("duplicate content for owner")
)

type FileRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *types.FileRecord) (*types.FileRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) (*types.FileRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) (*types.FileRecord, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status string) ([]*types.FileRecord, error)
	FindActiveByFingerprint(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, fingerprint string) (*types.FileRecord, error)
	DeleteByID(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) error
}

type fileRecordRepo struct {
	db      *gorm.DB
	log     *logger.Logger
	changes feed.Publisher
}

// NewFileRecordRepo wires the durable store to the change feed: every
// committed insert/update/delete is published after the write succeeds.
func NewFileRecordRepo(db *gorm.DB, baseLog *logger.Logger, changes feed.Publisher) FileRecordRepo {
	return &fileRecordRepo{
		db:      db,
		log:     baseLog.With("repo", "FileRecordRepo"),
		changes: changes,
	}
}

func (r *fileRecordRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *fileRecordRepo) publish(op feed.Op, rec *types.FileRecord, ownerID, recordID uuid.UUID) {
	if r.changes == nil {
		return
	}
	r.changes.Publish(feed.Change{
		Op:       op,
		OwnerID:  ownerID,
		RecordID: recordID,
		Record:   rec,
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *fileRecordRepo) Create(ctx context.Context, tx *gorm.DB, rec *types.FileRecord) (*types.FileRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := r.conn(tx).WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateContent
		}
		return nil, err
	}

	r.publish(feed.OpInsert, rec, rec.OwnerID, rec.ID)
	return rec, nil
}

func (r *fileRecordRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) (*types.FileRecord, error) {
	conn := r.conn(tx)

	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["updated_at"] = time.Now()

	res := conn.WithContext(ctx).
		Model(&types.FileRecord{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var rec types.FileRecord
	if err := conn.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r.publish(feed.OpUpdate, &rec, rec.OwnerID, rec.ID)
	return &rec, nil
}

func (r *fileRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) (*types.FileRecord, error) {
	var rec types.FileRecord
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *fileRecordRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status string) ([]*types.FileRecord, error) {
	q := r.conn(tx).WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var results []*types.FileRecord
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) FindActiveByFingerprint(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, fingerprint string) (*types.FileRecord, error) {
	var rec types.FileRecord
	err := r.conn(tx).WithContext(ctx).
		Where("owner_id = ? AND fingerprint = ? AND status <> ?", ownerID, fingerprint, types.FileStatusFailed).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *fileRecordRepo) DeleteByID(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) error {
	res := r.conn(tx).WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&types.FileRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	r.publish(feed.OpDelete, nil, ownerID, id)
	return nil
}
