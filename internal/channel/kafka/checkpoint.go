package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

var ErrTrackCanceled = errors.New("kafka: checkpoint tracking canceled")

type inflight struct {
	msg  *sarama.ConsumerMessage
	done bool
}

// claimCheckpoint follows the requests of one partition claim from
// delivery to answer. An offset is marked on the session only once every
// request before it has been answered, so a crash replays unanswered
// requests instead of skipping them.
type claimCheckpoint struct {
	sess  sarama.ConsumerGroupSession
	limit int
	every time.Duration
	now   func() time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*inflight // delivery order, oldest first
	byRecord   map[recordID]*inflight
	lastCommit time.Time
}

// newClaimCheckpoint allows at most limit unanswered requests and asks for
// a commit at most once per every.
func newClaimCheckpoint(sess sarama.ConsumerGroupSession, limit int64, every time.Duration) *claimCheckpoint {
	if limit < 1 {
		limit = 1
	}
	c := &claimCheckpoint{
		sess:     sess,
		limit:    int(limit),
		every:    every,
		now:      time.Now,
		byRecord: make(map[recordID]*inflight),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Track registers msg as in flight, waiting while the claim already holds
// limit unanswered requests.
func (c *claimCheckpoint) Track(ctx context.Context, msg *sarama.ConsumerMessage) (recordID, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) >= c.limit {
		if ctx.Err() != nil {
			return recordID{}, ErrTrackCanceled
		}
		c.cond.Wait()
	}
	if ctx.Err() != nil {
		return recordID{}, ErrTrackCanceled
	}

	rec := recordOf(msg)
	f := &inflight{msg: msg}
	c.queue = append(c.queue, f)
	c.byRecord[rec] = f
	return rec, nil
}

// Resolve records that rec has been answered. It marks the newest offset
// of the answered prefix and commits when the interval has passed.
// Unknown records are ignored.
func (c *claimCheckpoint) Resolve(rec recordID) {
	c.mu.Lock()
	f, ok := c.byRecord[rec]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byRecord, rec)
	f.done = true

	var mark *sarama.ConsumerMessage
	for len(c.queue) > 0 && c.queue[0].done {
		mark = c.queue[0].msg
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	if mark != nil {
		c.sess.MarkMessage(mark, "")
		c.cond.Broadcast()
	}

	due := false
	if now := c.now(); now.Sub(c.lastCommit) >= c.every {
		c.lastCommit = now
		due = true
	}
	c.mu.Unlock()

	if due {
		c.sess.Commit()
	}
}

// Pending counts the requests that hold back the checkpoint.
func (c *claimCheckpoint) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
