package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNoMessage is returned when no message is ready for delivery.
var ErrNoMessage = errors.New("no messages ready")

// Message is the unit of work carried by the dispatch queue. The payload
// stays minimal: workers load the full job from storage by ID.
type Message struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
}

// envelope wraps a message with its delivery state.
type envelope struct {
	ID           string    `json:"id"`
	Body         Message   `json:"body"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// DispatchQueue is a durable Badger-backed job queue with visibility
// timeouts. Delivery order follows visibility time (enqueue time for fresh
// messages). Messages are deduplicated on job ID: enqueueing a job that is
// already queued or in flight is a no-op. Messages received more than
// maxReceive times are dropped so a crashing job cannot loop forever.
type DispatchQueue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewDispatchQueue creates a queue on an existing Badger DB. The DB lifecycle
// stays with the caller.
func NewDispatchQueue(db *badger.DB, name string, visibilityTimeout time.Duration, maxReceive int) (*DispatchQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &DispatchQueue{
		db:                db,
		name:              name,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message to the queue. A message for a job ID that is
// already queued or in flight is silently dropped, which makes startup
// re-enqueue of pending jobs idempotent.
func (q *DispatchQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.JobID == "" {
		return errors.New("job ID is required")
	}

	env := envelope{
		ID:         uuid.New().String(),
		Body:       msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		dedupKey := q.dedupKey(msg.JobID)
		switch _, err := txn.Get(dedupKey); err {
		case nil:
			return nil // job already queued
		case badger.ErrKeyNotFound:
		default:
			return err
		}

		if err := txn.Set(q.msgKey(env.ID), data); err != nil {
			return err
		}
		if err := txn.Set(q.indexKey(env.VisibleAt, env.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(dedupKey, []byte(env.ID))
	})
}

// Receive claims the oldest visible message. The claim hides the message for
// the visibility timeout; the returned delete function settles it. A message
// left undeleted past the timeout is redelivered.
func (q *DispatchQueue) Receive(ctx context.Context) (*Message, func() error, error) {
	var env envelope
	var msgID string
	var oldIndexKey []byte
	found := false

	// No-message is signalled through the found flag rather than an error:
	// an error return would roll back the transaction and undo any poison
	// drops or orphan cleanups made while scanning.
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.name))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue // skip malformed keys
			}

			// Index keys sort by timestamp, so the first future entry
			// means nothing else is ready either.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			// Drop poison pills so they cannot loop forever. Releasing the
			// dedup key lets the job be enqueued again deliberately.
			if env.ReceiveCount >= q.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				if err := txn.Delete(q.dedupKey(env.Body.JobID)); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return nil
		}

		// Claim: bump the receive count and hide the message until the
		// visibility timeout expires.
		env.ReceiveCount++
		env.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(env.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrNoMessage
	}

	deleteFn := func() error {
		return q.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(q.msgKey(msgID))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil // already deleted
				}
				return err
			}

			var current envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}

			if err := txn.Delete(q.indexKey(current.VisibleAt, msgID)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Delete(q.dedupKey(current.Body.JobID)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			return txn.Delete(q.msgKey(msgID))
		})
	}

	return &env.Body, deleteFn, nil
}

// Extend pushes out the visibility deadline of an in-flight job, keeping it
// hidden while a long run is still making progress.
func (q *DispatchQueue) Extend(ctx context.Context, jobID string, duration time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		dedupItem, err := txn.Get(q.dedupKey(jobID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("job %s is not queued", jobID)
			}
			return err
		}

		var msgID string
		if err := dedupItem.Value(func(val []byte) error {
			msgID = string(val)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(q.msgKey(msgID))
		if err != nil {
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		oldVisibleAt := env.VisibleAt
		env.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(oldVisibleAt, msgID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(env.VisibleAt, msgID), []byte{})
	})
}

// Close is a no-op; the Badger DB is owned by the caller.
func (q *DispatchQueue) Close() error {
	return nil
}

func (q *DispatchQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *DispatchQueue) dedupKey(jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dedup:%s", q.name, jobID))
}

// indexKey orders messages by visibility time. The timestamp is zero-padded
// so lexicographic key order matches numeric order.
func (q *DispatchQueue) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, visibleAt.UnixNano(), id))
}

func (q *DispatchQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf("queue:%s:index:", q.name)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}".
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 || suffix[20] != ':' {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
