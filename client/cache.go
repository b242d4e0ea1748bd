package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/types"
)

// Config tunes one Cache. Zero values fall back to defaults suitable for
// interactive use.
type Config struct {
	BaseURL string
	Token   string

	HTTPClient           *http.Client
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
}

// Cache is a reactive read-mostly mirror of one owner's file records.
// It is populated by an initial bulk fetch and kept current from the
// server's event stream; it never writes record fields back directly.
// The stream connection is reference counted: it opens on the first
// Acquire and closes on the last Release.
type Cache struct {
	cfg   Config
	log   *logger.Logger
	httpc *http.Client

	mu      sync.RWMutex
	records []*types.FileRecord // recency order, newest first
	lastErr error

	refMu        sync.Mutex
	refs         int
	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

func New(cfg Config, baseLog *logger.Logger) *Cache {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 8
	}
	return &Cache{
		cfg:   cfg,
		log:   baseLog.With("component", "ClientCache"),
		httpc: cfg.HTTPClient,
	}
}

// Acquire registers an interested observer. The first observer connects
// the stream.
func (c *Cache) Acquire() {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	c.refs++
	if c.refs > 1 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.streamCancel = cancel
	c.streamDone = make(chan struct{})
	go c.streamLoop(ctx, c.streamDone)
}

// Release drops one observer. The last release disconnects the stream.
// A release without a matching acquire is a caller bug; it is logged and
// ignored rather than corrupting the counter.
func (c *Cache) Release() {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	if c.refs == 0 {
		c.log.Warn("Release without matching Acquire")
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}

	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
}

// Upload optimistically inserts a pending record, forwards the bytes to
// the API layer, and reconciles with the server's answer. The returned
// id is the server-assigned record id.
func (c *Cache) Upload(ctx context.Context, name string, data []byte) (uuid.UUID, error) {
	temp := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: name,
		Status:       types.FileStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	c.upsert(temp)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		c.remove(temp.ID)
		return uuid.Nil, fmt.Errorf("build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/files", body)
	if err != nil {
		c.remove(temp.ID)
		return uuid.Nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.remove(temp.ID)
		return uuid.Nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.remove(temp.ID)
		return uuid.Nil, fmt.Errorf("upload rejected: http %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		RecordID    uuid.UUID `json:"record_id"`
		FinalStatus string    `json:"final_status"`
		Failure     string    `json:"failure,omitempty"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.remove(temp.ID)
		return uuid.Nil, fmt.Errorf("decode upload response: %w", err)
	}

	// the stream delivers authoritative snapshots; drop the placeholder
	// and pull the final record in case the stream is not connected
	c.remove(temp.ID)
	if rec, getErr := c.fetchRecord(ctx, out.RecordID); getErr == nil && rec != nil {
		c.upsert(rec)
	}
	return out.RecordID, nil
}

// Remove optimistically drops the record from the mirror and restores it
// if the server rejects the delete.
func (c *Cache) Remove(ctx context.Context, id uuid.UUID) error {
	stashed, idx := c.removeStash(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/api/files/%s", c.cfg.BaseURL, id), nil)
	if err != nil {
		c.restore(stashed, idx)
		return err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.restore(stashed, idx)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		c.restore(stashed, idx)
		return fmt.Errorf("remove rejected: http %d", resp.StatusCode)
	}
	return nil
}

// Refresh re-fetches the full record list. It never returns an error:
// failures land on the side-channel signal so stale-but-present data is
// preferred over blanking the view.
func (c *Cache) Refresh(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/files", nil)
	if err != nil {
		c.setErr(fmt.Errorf("refresh: %w", err))
		return
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.setErr(fmt.Errorf("refresh: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setErr(fmt.Errorf("refresh: http %d", resp.StatusCode))
		return
	}

	var out struct {
		Records []*types.FileRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.setErr(fmt.Errorf("refresh decode: %w", err))
		return
	}

	c.mu.Lock()
	c.records = out.Records
	c.lastErr = nil
	c.mu.Unlock()
}

// Err is the side-channel error signal. Non-nil after a failed refresh
// or after the reconnect budget is exhausted; cleared by a successful
// refresh.
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Records returns the mirror in recency order, newest first.
func (c *Cache) Records() []*types.FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.FileRecord, len(c.records))
	copy(out, c.records)
	return out
}

// InFlight returns records still being processed.
func (c *Cache) InFlight() []*types.FileRecord {
	return c.filter(func(r *types.FileRecord) bool {
		return r.Status == types.FileStatusPending || r.Status == types.FileStatusProcessing
	})
}

func (c *Cache) Ready() []*types.FileRecord {
	return c.filter(func(r *types.FileRecord) bool { return r.Status == types.FileStatusReady })
}

func (c *Cache) Failed() []*types.FileRecord {
	return c.filter(func(r *types.FileRecord) bool { return r.Status == types.FileStatusFailed })
}

func (c *Cache) filter(keep func(*types.FileRecord) bool) []*types.FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*types.FileRecord
	for _, r := range c.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ------------------------
// internal mirror mutation
// ------------------------

// upsert replaces-or-inserts by id and moves the record to the front.
// Applying the same snapshot twice is idempotent.
func (c *Cache) upsert(rec *types.FileRecord) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.records {
		if existing.ID == rec.ID {
			c.records = append(c.records[:i], c.records[i+1:]...)
			break
		}
	}
	c.records = append([]*types.FileRecord{rec}, c.records...)
}

func (c *Cache) remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.records {
		if existing.ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return
		}
	}
}

func (c *Cache) removeStash(id uuid.UUID) (*types.FileRecord, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.records {
		if existing.ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return existing, i
		}
	}
	return nil, -1
}

func (c *Cache) restore(rec *types.FileRecord, idx int) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx > len(c.records) {
		idx = 0
	}
	c.records = append(c.records[:idx], append([]*types.FileRecord{rec}, c.records[idx:]...)...)
}

func (c *Cache) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Cache) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func (c *Cache) fetchRecord(ctx context.Context, id uuid.UUID) (*types.FileRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/files/%s", c.cfg.BaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("record fetch failed")
	}

	var out struct {
		Record *types.FileRecord `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Record, nil
}
