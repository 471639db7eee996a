package syncer

import (
	"context"
	"time"

	"classdesk/api/internal/remote"
	"classdesk/api/internal/schema"
)

func (c *Coordinator) subscribe(ctx context.Context, gen uint64, id string) (remote.Unsubscribe, error) {
	return c.remote.Subscribe(ctx, id, func(snap remote.Snapshot) {
		c.handleRemote(ctx, gen, id, snap)
	})
}

func (c *Coordinator) startRemote(ctx context.Context, gen uint64, id string) {
	unsub, err := c.subscribe(ctx, gen, id)
	if err != nil {
		c.logger.Warn("remote subscribe failed, holding writes until it recovers", "identity", id, "error", err)
		// Show the best data this device has while the remote is unreachable.
		doc := c.loadLocalDocument()
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if c.phase == PhaseRemoteLoading {
			c.doc = doc
			c.degraded = true
			c.transitionLocked(EventSubscribeFailed)
			c.publishLocked()
		}
		c.wg.Add(1)
		c.mu.Unlock()
		go c.resubscribe(ctx, gen, id)
		return
	}
	c.adoptSubscription(gen, unsub)
}

func (c *Coordinator) adoptSubscription(gen uint64, unsub remote.Unsubscribe) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		unsub()
		return false
	}
	c.unsub = unsub
	c.mu.Unlock()
	return true
}

func (c *Coordinator) resubscribe(ctx context.Context, gen uint64, id string) {
	defer c.wg.Done()
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(c.opts.RetryDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		c.metrics.Resubscribe()
		unsub, err := c.subscribe(ctx, gen, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("remote resubscribe failed", "identity", id, "attempt", attempt, "error", err)
			continue
		}
		if c.adoptSubscription(gen, unsub) {
			c.logger.Info("remote subscription recovered", "identity", id, "attempt", attempt)
		}
		return
	}
}

// handleRemote runs on the remote store's delivery goroutine.
func (c *Coordinator) handleRemote(ctx context.Context, gen uint64, id string, snap remote.Snapshot) {
	var doc schema.Document
	if snap.Exists {
		doc = c.reconcile(targetRemote, snap.Doc)
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	switch c.phase {
	case PhaseRemoteLoading:
		if snap.Exists {
			c.doc = doc
			c.transitionLocked(EventRemoteFound)
			c.publishLocked()
			c.mu.Unlock()
			return
		}
		c.transitionLocked(EventRemoteMissing)
		c.mu.Unlock()
		c.migrate(ctx, gen, id, nil)

	case PhaseMigrating:
		if snap.Exists {
			c.arrival = &doc
			c.transitionLocked(EventRemoteFound)
		}
		c.mu.Unlock()

	case PhaseReadyRemote:
		if c.degraded {
			c.recoverLocked(ctx, gen, id, snap, doc)
			return
		}
		if !snap.Exists {
			// Someone removed the document. Memory stays authoritative and the
			// next flush recreates it.
			c.metrics.RemoteNotification(false)
			c.transitionLocked(EventRemoteMissing)
			c.mu.Unlock()
			c.logger.Warn("remote document disappeared", "identity", id)
			return
		}
		if c.consumeEchoLocked(schema.Digest(doc)) {
			c.metrics.RemoteNotification(true)
			c.mu.Unlock()
			return
		}
		c.metrics.RemoteNotification(false)
		if schema.Equal(doc, c.doc) {
			c.mu.Unlock()
			return
		}
		// Last delivered notification wins, including over an unflushed update.
		if c.pending {
			c.logger.Info("remote change replaced unflushed local update", "identity", id, "origin", snap.Origin)
		}
		c.doc = doc
		c.pending = false
		c.forgetWritesLocked()
		c.stopTimerLocked()
		c.transitionLocked(EventRemoteFound)
		c.publishLocked()
		c.mu.Unlock()

	default:
		c.mu.Unlock()
	}
}

// recoverLocked handles the first delivery after a failed subscription
// recovered. It releases mu.
func (c *Coordinator) recoverLocked(ctx context.Context, gen uint64, id string, snap remote.Snapshot, doc schema.Document) {
	c.degraded = false
	if snap.Exists {
		if c.pending {
			c.logger.Info("remote document replaced updates made while offline", "identity", id)
		}
		c.doc = doc
		c.pending = false
		c.forgetWritesLocked()
		c.stopTimerLocked()
		c.transitionLocked(EventRemoteFound)
		c.publishLocked()
		c.mu.Unlock()
		return
	}
	seed := c.doc.Clone()
	c.pending = false
	c.stopTimerLocked()
	c.transitionLocked(EventMigrationRequired)
	c.publishLocked()
	c.mu.Unlock()
	c.migrate(ctx, gen, id, &seed)
}

// migrate moves the seed into the remote store exactly once. Without an
// explicit seed the local blob (or defaults) is used.
func (c *Coordinator) migrate(ctx context.Context, gen uint64, id string, seed *schema.Document) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if seed == nil {
		doc := c.loadLocalDocument()
		seed = &doc
	}
	digest := schema.Digest(*seed)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.rememberLocked(digest)
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	created := true
	var err error
	if creator, ok := c.remote.(remote.Creator); ok {
		created, err = creator.CreateIfAbsent(writeCtx, id, *seed)
	} else {
		err = c.remote.WriteWhole(writeCtx, id, *seed)
	}
	cancel()
	c.metrics.Flush(targetRemote, err)

	switch {
	case err != nil:
		c.metrics.Migration("failed")
		c.logger.Warn("migration write failed, keeping seed in memory", "identity", id, "error", err)
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if c.arrival != nil {
			// The remote document showed up while the write failed.
			c.mu.Unlock()
			c.adoptWinner(ctx, gen, id, digest)
			return
		}
		c.doc = *seed
		c.pending = true
		c.clearLocal = true
		c.transitionLocked(EventMigrationDone)
		c.publishLocked()
		c.scheduleLocked()
		c.mu.Unlock()

	case !created:
		c.metrics.Migration("conflict")
		c.logger.Warn("migration abandoned", "identity", id, "error", ErrMigrationConflict)
		c.adoptWinner(ctx, gen, id, digest)

	default:
		c.metrics.Migration("created")
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.doc = *seed
		if c.arrival != nil {
			if schema.Digest(*c.arrival) == digest {
				c.consumeEchoLocked(digest)
			} else {
				c.doc = *c.arrival
				c.forgetWritesLocked()
			}
		}
		c.arrival = nil
		c.transitionLocked(EventMigrationDone)
		c.publishLocked()
		c.mu.Unlock()
		c.clearLocalStore()
		c.logger.Info("migrated local document to remote", "identity", id)
	}
}

// adoptWinner publishes the document another writer created first. Local
// storage is left untouched.
func (c *Coordinator) adoptWinner(ctx context.Context, gen uint64, id string, seedDigest string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.consumeEchoLocked(seedDigest)
	arrival := c.arrival
	c.mu.Unlock()

	var winner schema.Document
	if arrival != nil {
		winner = *arrival
	} else {
		readCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
		partial, err := c.remote.ReadOnce(readCtx, id)
		cancel()
		if err != nil {
			c.logger.Warn("read remote winner failed, waiting for notification", "identity", id, "error", err)
			winner = schema.Defaults()
		} else {
			winner = c.reconcile(targetRemote, partial)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.arrival != nil {
		winner = *c.arrival
	}
	c.arrival = nil
	c.doc = winner
	c.forgetWritesLocked()
	c.transitionLocked(EventMigrationConflict)
	c.publishLocked()
}
