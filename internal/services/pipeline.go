package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/yungbote/docstream-backend/internal/config"
	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/repos"
	"github.com/yungbote/docstream-backend/internal/types"
)

// ProgressFunc receives best-effort stage/progress reports during a run.
// It may be slow or broken; failures are logged and never abort the run.
type ProgressFunc func(ev types.ProgressEvent)

type RunOptions struct {
	OnProgress         ProgressFunc
	SkipDuplicateCheck bool
}

type RunInput struct {
	Data         []byte
	OriginalName string
	OwnerID      uuid.UUID
	ContentType  string
	Options      RunOptions
}

type RunResult struct {
	RecordID    uuid.UUID
	FinalStatus string
	Failure     *PipelineError
}

// PipelineService sequences extraction, duplicate check, compression,
// embedding and finalization for one uploaded file. Once extraction and
// the duplicate check succeed the run always ends with the record ready
// or failed; pre-record failures return an error and leave no durable
// trace.
type PipelineService interface {
	Run(ctx context.Context, in RunInput) (*RunResult, error)
}

type pipelineService struct {
	db  *gorm.DB
	log *logger.Logger
	cfg config.Config

	recordRepo repos.FileRecordRepo
	extractor  TextExtractor
	ai         AIClient

	// bounds the number of concurrently executing runs
	sem *semaphore.Weighted
}

func NewPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	recordRepo repos.FileRecordRepo,
	extractor TextExtractor,
	ai AIClient,
) PipelineService {
	return &pipelineService{
		db:         db,
		log:        baseLog.With("service", "PipelineService"),
		cfg:        cfg,
		recordRepo: recordRepo,
		extractor:  extractor,
		ai:         ai,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
	}
}

// Progress convention: 0-25 extraction, 25-75 compression (dominant
// cost), 75-90 embedding, 90-100 finalization.
const (
	progressExtracted  = 25
	progressCompressed = 75
	progressEmbedded   = 90
	progressDone       = 100
)

func (s *pipelineService) Run(ctx context.Context, in RunInput) (result *RunResult, err error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	if acqErr := s.sem.Acquire(ctx, 1); acqErr != nil {
		return nil, newPipelineError(FailureInternal, "", fmt.Errorf("acquire run slot: %w", acqErr))
	}
	defer s.sem.Release(1)

	log := s.log.With("owner_id", in.OwnerID, "original_name", in.OriginalName)

	report := func(recordID uuid.UUID, stage string, progress int, msg string, terminal string) {
		if in.Options.OnProgress == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Warn("progress callback panicked", "panic", r, "stage", stage)
			}
		}()
		in.Options.OnProgress(types.ProgressEvent{
			OwnerID:        in.OwnerID,
			RecordID:       recordID,
			Stage:          stage,
			Progress:       progress,
			Message:        msg,
			TerminalStatus: terminal,
		})
	}

	// 1) Extract. Failure here produces no record.
	extraction, extErr := s.extractor.Extract(in.OriginalName, in.ContentType, in.Data)
	if extErr != nil {
		return nil, newPipelineError(FailureExtraction, types.StageExtraction, extErr)
	}

	// 2) Duplicate check, scoped strictly to this owner.
	if !in.Options.SkipDuplicateCheck {
		existing, dupErr := s.recordRepo.FindActiveByFingerprint(ctx, nil, in.OwnerID, extraction.Fingerprint)
		if dupErr != nil && dupErr != repos.ErrNotFound {
			return nil, newPipelineError(FailureStore, types.StageExtraction, fmt.Errorf("duplicate check: %w", dupErr))
		}
		if existing != nil {
			return nil, newPipelineError(FailureDuplicate, "", fmt.Errorf("content already uploaded as record %s", existing.ID))
		}
	}

	// 3) Create the pending record: the first durable write.
	rec := &types.FileRecord{
		ID:           uuid.New(),
		OwnerID:      in.OwnerID,
		OriginalName: in.OriginalName,
		Kind:         extraction.Kind,
		Fingerprint:  extraction.Fingerprint,
		Status:       types.FileStatusPending,
		Progress:     0,
	}
	if _, createErr := s.recordRepo.Create(ctx, nil, rec); createErr != nil {
		if createErr == repos.ErrDuplicateContent {
			// a concurrent run of identical content won the insert race
			return nil, newPipelineError(FailureDuplicate, "", createErr)
		}
		return nil, newPipelineError(FailureStore, "", fmt.Errorf("create record: %w", createErr))
	}
	recordID := rec.ID
	log = log.With("record_id", recordID)

	// From here the run proceeds to a terminal state regardless of
	// caller interest.
	runCtx := context.WithoutCancel(ctx)

	// Internal panics are caught at the top level; mark the record
	// failed best-effort since a durable trace now exists.
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline run panicked", "panic", r)
			failure := newPipelineError(FailureInternal, "", fmt.Errorf("internal error: %v", r))
			s.markFailed(runCtx, log, recordID, "", failure)
			result = &RunResult{RecordID: recordID, FinalStatus: types.FileStatusFailed, Failure: failure}
			err = nil
		}
	}()

	report(recordID, types.StageExtraction, progressExtracted, "extraction complete", "")

	// 4) Compress extracted text into a description.
	if updErr := s.updateWithRetry(runCtx, log, recordID, map[string]interface{}{
		"status":   types.FileStatusProcessing,
		"stage":    types.StageCompression,
		"progress": progressExtracted,
	}); updErr != nil {
		return nil, newPipelineError(FailureStore, types.StageCompression, updErr)
	}
	report(recordID, types.StageCompression, progressExtracted, "compressing", "")

	description, sumErr := s.ai.Summarize(runCtx, extraction.Text)
	if sumErr != nil {
		failure := newPipelineError(FailureCompression, types.StageCompression, sumErr)
		if storeErr := s.markFailed(runCtx, log, recordID, types.StageCompression, failure); storeErr != nil {
			return nil, storeErr
		}
		report(recordID, types.StageCompression, progressExtracted, "compression failed", types.FileStatusFailed)
		return &RunResult{RecordID: recordID, FinalStatus: types.FileStatusFailed, Failure: failure}, nil
	}

	if updErr := s.updateWithRetry(runCtx, log, recordID, map[string]interface{}{
		"description": description,
		"stage":       types.StageCompression,
		"progress":    progressCompressed,
	}); updErr != nil {
		return nil, newPipelineError(FailureStore, types.StageCompression, updErr)
	}
	report(recordID, types.StageCompression, progressCompressed, "compression complete", "")

	// 5) Embed the description.
	vectors, embedErr := s.ai.Embed(runCtx, []string{description})
	if embedErr == nil && len(vectors) != 1 {
		embedErr = fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	if embedErr != nil {
		failure := newPipelineError(FailureEmbedding, types.StageEmbedding, embedErr)
		if storeErr := s.markFailed(runCtx, log, recordID, types.StageEmbedding, failure); storeErr != nil {
			return nil, storeErr
		}
		report(recordID, types.StageEmbedding, progressCompressed, "embedding failed", types.FileStatusFailed)
		return &RunResult{RecordID: recordID, FinalStatus: types.FileStatusFailed, Failure: failure}, nil
	}

	if updErr := s.updateWithRetry(runCtx, log, recordID, map[string]interface{}{
		"stage":    types.StageEmbedding,
		"progress": progressEmbedded,
	}); updErr != nil {
		return nil, newPipelineError(FailureStore, types.StageEmbedding, updErr)
	}
	report(recordID, types.StageEmbedding, progressEmbedded, "embedding complete", "")

	// 6) Finalize.
	embedding, marshalErr := types.MarshalEmbedding(vectors[0])
	if marshalErr != nil {
		failure := newPipelineError(FailureInternal, types.StageFinalization, marshalErr)
		if storeErr := s.markFailed(runCtx, log, recordID, types.StageFinalization, failure); storeErr != nil {
			return nil, storeErr
		}
		return &RunResult{RecordID: recordID, FinalStatus: types.FileStatusFailed, Failure: failure}, nil
	}
	if updErr := s.updateWithRetry(runCtx, log, recordID, map[string]interface{}{
		"embedding": embedding,
		"status":    types.FileStatusReady,
		"stage":     types.StageFinalization,
		"progress":  progressDone,
	}); updErr != nil {
		return nil, newPipelineError(FailureStore, types.StageFinalization, updErr)
	}
	report(recordID, types.StageFinalization, progressDone, "ready", types.FileStatusReady)

	log.Info("pipeline run complete", "status", types.FileStatusReady)
	return &RunResult{RecordID: recordID, FinalStatus: types.FileStatusReady}, nil
}

func (s *pipelineService) validate(in RunInput) error {
	if in.OwnerID == uuid.Nil {
		return newPipelineError(FailureValidation, "", fmt.Errorf("owner id required"))
	}
	if in.OriginalName == "" {
		return newPipelineError(FailureValidation, "", fmt.Errorf("original name required"))
	}
	if len(in.Data) == 0 {
		return newPipelineError(FailureValidation, "", fmt.Errorf("file is empty"))
	}
	if int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return newPipelineError(FailureValidation, "", fmt.Errorf("file exceeds maximum size of %d bytes", s.cfg.MaxUploadBytes))
	}
	return nil
}

// updateWithRetry performs one durable record write, retrying transient
// store failures with exponential backoff. Exhaustion leaves the record
// at its last successfully written state; the caller surfaces that as a
// store failure.
func (s *pipelineService) updateWithRetry(ctx context.Context, log *logger.Logger, recordID uuid.UUID, fields map[string]interface{}) error {
	backoff := s.cfg.WriteRetryBase()
	var lastErr error

	for attempt := 0; attempt <= s.cfg.WriteRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, lastErr = s.recordRepo.UpdateFields(ctx, nil, recordID, fields)
		if lastErr == nil {
			return nil
		}
		if lastErr == repos.ErrNotFound {
			// the record was deleted out from under the run; retrying
			// cannot help
			return lastErr
		}
		log.Warn("record write failed, retrying",
			"attempt", attempt+1,
			"max_retries", s.cfg.WriteRetryMax,
			"error", lastErr,
		)
	}
	return fmt.Errorf("record write exhausted retries: %w", lastErr)
}

// markFailed records a stage failure on the run's record. A store error
// here (after retries) is returned so the caller can raise it; the record
// then lags at its last successful write.
func (s *pipelineService) markFailed(ctx context.Context, log *logger.Logger, recordID uuid.UUID, stage string, failure *PipelineError) error {
	fields := map[string]interface{}{
		"status":         types.FileStatusFailed,
		"failure_detail": failure.Error(),
	}
	if stage != "" {
		fields["stage"] = stage
	}
	if err := s.updateWithRetry(ctx, log, recordID, fields); err != nil {
		log.Error("failed to mark record as failed", "error", err, "stage", stage)
		return newPipelineError(FailureStore, stage, err)
	}
	return nil
}
