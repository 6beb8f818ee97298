package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/carscout/carscout-ai/pkg/logging"
)

// ReplyDispatcher holds agent replies for a short pause before sending, so
// the conversation reads human. A newer inbound message on the same thread
// cancels the pending reply; the engine regenerates one with full context.
type ReplyDispatcher struct {
	delay time.Duration
	log   *logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingReply
	wg      sync.WaitGroup
}

type pendingReply struct {
	cancel context.CancelFunc
}

// NewReplyDispatcher creates a dispatcher with the given hold delay.
func NewReplyDispatcher(delay time.Duration, log *logging.Logger) *ReplyDispatcher {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	if log == nil {
		log = logging.Default()
	}
	return &ReplyDispatcher{
		delay:   delay,
		log:     log,
		pending: make(map[string]*pendingReply),
	}
}

// Schedule queues send to run after the hold delay, replacing any reply
// already pending for the thread. The send survives cancellation of the
// caller's context: only a newer message on the thread (via Cancel) drops
// it, so a shutting-down worker can still flush held replies through Wait.
func (d *ReplyDispatcher) Schedule(ctx context.Context, threadID string, send func(ctx context.Context)) {
	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &pendingReply{cancel: cancel}

	d.mu.Lock()
	if prev, ok := d.pending[threadID]; ok {
		prev.cancel()
	}
	d.pending[threadID] = entry
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.delay)
		defer timer.Stop()

		select {
		case <-sendCtx.Done():
			d.log.Debug("pending reply cancelled", "thread_id", threadID)
			return
		case <-timer.C:
		}

		// Only evict our own entry: a newer reply may have replaced it
		// between the timer firing and the lock being taken.
		d.mu.Lock()
		if d.pending[threadID] == entry {
			delete(d.pending, threadID)
		}
		d.mu.Unlock()

		send(sendCtx)
	}()
}

// Cancel drops any pending reply for the thread.
func (d *ReplyDispatcher) Cancel(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[threadID]
	if !ok {
		return false
	}
	entry.cancel()
	delete(d.pending, threadID)
	return true
}

// Wait blocks until all scheduled sends have finished or been cancelled.
func (d *ReplyDispatcher) Wait() {
	d.wg.Wait()
}
