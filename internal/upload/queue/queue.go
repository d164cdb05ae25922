// Package queue is the advisory finalize-trigger queue: a Redis list
// that ChunkIngestor pushes completed session ids onto and a worker
// started by cmd/upload-gateway drains, following the redis client
// construction already wrapped by internal/common.Cache.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const finalizeQueueKey = "upload:finalize:queue"

// FinalizeQueue is a durable Redis list of finalization triggers. An
// entry is removed when a worker pops it, so a worker that crashes
// before finishing that session's Finalize loses the trigger. It is
// advisory: RecoveryService sweeps are the correctness backstop if a
// push is lost or a worker crashes before finishing with it.
type FinalizeQueue struct {
	client *redis.Client
}

// New creates a FinalizeQueue over an existing Redis client.
func New(client *redis.Client) *FinalizeQueue {
	return &FinalizeQueue{client: client}
}

// Enqueue pushes sessionID onto the queue. Safe to call multiple times
// for the same session; the consumer side tolerates duplicate triggers.
func (q *FinalizeQueue) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	if err := q.client.LPush(ctx, finalizeQueueKey, sessionID.String()).Err(); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to enqueue finalize trigger")
		return err
	}
	return nil
}

// Dequeue blocks up to timeout for the next session id to finalize. It
// returns (uuid.Nil, false, nil) on a timeout with nothing queued.
func (q *FinalizeQueue) Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, finalizeQueueKey).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	// BRPop returns [key, value]; we only pushed one key.
	id, err := uuid.Parse(result[1])
	if err != nil {
		log.Warn().Err(err).Str("raw", result[1]).Msg("dropping malformed finalize queue entry")
		return uuid.Nil, false, nil
	}
	return id, true, nil
}
