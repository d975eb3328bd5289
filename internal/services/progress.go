package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ProgressStateRunning   = "running"
	ProgressStateCompleted = "completed"
	ProgressStateFailed    = "failed"
)

// ProgressRecord tracks one long-running backup or restore operation.
type ProgressRecord struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressStore keeps operation progress in Redis with a TTL, so records for
// finished or abandoned operations expire on their own instead of
// accumulating in process memory.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}
}

// Enabled reports whether progress tracking is available. With no Redis the
// store degrades to a no-op and operations run untracked.
func (s *ProgressStore) Enabled() bool {
	return s != nil && s.client != nil
}

func progressKey(id string) string {
	return "backup:progress:" + id
}

func (s *ProgressStore) put(ctx context.Context, record *ProgressRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}
	return s.client.Set(ctx, progressKey(record.ID), data, s.ttl).Err()
}

// Begin registers a new running operation and returns its id.
func (s *ProgressStore) Begin(ctx context.Context, operation string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	now := time.Now()
	record := &ProgressRecord{
		ID:        uuid.NewString(),
		Operation: operation,
		State:     ProgressStateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Update moves an operation to a new state. Each update also renews the TTL.
func (s *ProgressStore) Update(ctx context.Context, id, state, message string) error {
	if !s.Enabled() || id == "" {
		return nil
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("unknown operation: %s", id)
	}

	record.State = state
	record.Message = message
	record.UpdatedAt = time.Now()
	return s.put(ctx, record)
}

// Get returns the record for id, or nil when it never existed or expired.
func (s *ProgressStore) Get(ctx context.Context, id string) (*ProgressRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}

	data, err := s.client.Get(ctx, progressKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress record: %w", err)
	}

	var record ProgressRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode progress record: %w", err)
	}
	return &record, nil
}
