package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/idempotency"
)

// PutEntryNX stores the entry only when its fingerprint is unclaimed.
// SetNX makes first-writer-wins hold across processes sharing the same
// Redis, which the in-memory store cannot offer.
func (s *Store) PutEntryNX(ctx context.Context, e *idempotency.Entry) (*idempotency.Entry, bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, false, fmt.Errorf("pendulum/redis: marshal entry: %w", err)
	}
	key := entryKey(e.Fingerprint)

	for {
		created, err := s.client.SetNX(ctx, key, raw, s.entryTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("pendulum/redis: put entry: %w", err)
		}
		if created {
			return e.Clone(), true, nil
		}

		existing, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			// Expired between the two calls; claim the slot again.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("pendulum/redis: get existing entry: %w", err)
		}

		out, decErr := decodeEntry(existing)
		if decErr != nil {
			return nil, false, decErr
		}
		return out, false, nil
	}
}

// GetEntry returns the entry for a fingerprint, or pendulum.ErrEntryNotFound.
func (s *Store) GetEntry(ctx context.Context, fingerprint string) (*idempotency.Entry, error) {
	raw, err := s.client.Get(ctx, entryKey(fingerprint)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, pendulum.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: get entry: %w", err)
	}
	return decodeEntry(raw)
}

// ReplaceEntry stores the entry unconditionally, resetting its expiry.
func (s *Store) ReplaceEntry(ctx context.Context, e *idempotency.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("pendulum/redis: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, entryKey(e.Fingerprint), raw, s.entryTTL).Err(); err != nil {
		return fmt.Errorf("pendulum/redis: replace entry: %w", err)
	}
	return nil
}

// DeleteEntry removes the entry for a fingerprint. Deleting an absent
// entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, entryKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("pendulum/redis: delete entry: %w", err)
	}
	return nil
}

func decodeEntry(raw string) (*idempotency.Entry, error) {
	var e idempotency.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("pendulum/redis: decode entry: %w", err)
	}
	return &e, nil
}
