package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/repos"
	"github.com/yungbote/docstream-backend/internal/types"
)

// FileService is the bulk-read boundary the client cache pulls from, plus
// the explicit owner delete. Mutations during a run belong to the
// pipeline; this service never touches an in-flight record's fields.
type FileService interface {
	List(ctx context.Context, ownerID uuid.UUID, status string) ([]*types.FileRecord, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.FileRecord, error)
	Remove(ctx context.Context, ownerID, id uuid.UUID) error
}

type fileService struct {
	db         *gorm.DB
	log        *logger.Logger
	recordRepo repos.FileRecordRepo
}

func NewFileService(db *gorm.DB, baseLog *logger.Logger, recordRepo repos.FileRecordRepo) FileService {
	return &fileService{
		db:         db,
		log:        baseLog.With("service", "FileService"),
		recordRepo: recordRepo,
	}
}

func (fs *fileService) List(ctx context.Context, ownerID uuid.UUID, status string) ([]*types.FileRecord, error) {
	if status != "" {
		switch status {
		case types.FileStatusPending, types.FileStatusProcessing, types.FileStatusReady, types.FileStatusFailed:
		default:
			return nil, fmt.Errorf("unknown status filter %q", status)
		}
	}
	return fs.recordRepo.ListByOwner(ctx, nil, ownerID, status)
}

func (fs *fileService) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.FileRecord, error) {
	return fs.recordRepo.GetByID(ctx, nil, ownerID, id)
}

func (fs *fileService) Remove(ctx context.Context, ownerID, id uuid.UUID) error {
	fs.log.Info("Removing file record", "owner_id", ownerID, "record_id", id)
	return fs.recordRepo.DeleteByID(ctx, nil, ownerID, id)
}
