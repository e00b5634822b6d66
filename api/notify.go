package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"crm-api/domain"
)

type notifyJob struct {
	events []domain.ChangeEvent
}

// Notifier fans committed change events out to an EventSink through a
// bounded worker pool. Events are best effort: when the buffer stays full
// past the handoff timeout the batch is dropped with a warning, never
// blocking the request path.
type Notifier struct {
	sink           EventSink
	logger         *log.Logger
	jobs           chan notifyJob
	wg             sync.WaitGroup
	publishTimeout time.Duration
	handoffTimeout time.Duration
	closeOnce      sync.Once
}

// NewNotifier starts the worker pool. Pool sizing comes from the
// NOTIFY_WORKERS, NOTIFY_BUFFER, NOTIFY_TIMEOUT and NOTIFY_HANDOFF_TIMEOUT
// environment variables.
func NewNotifier(sink EventSink, logger *log.Logger) *Notifier {
	if sink == nil {
		panic("api.NewNotifier: sink is nil")
	}
	if logger == nil {
		panic("api.NewNotifier: logger is nil")
	}

	workers := envInt("NOTIFY_WORKERS", 8)
	buf := envInt("NOTIFY_BUFFER", 1024)

	n := &Notifier{
		sink:           sink,
		logger:         logger,
		jobs:           make(chan notifyJob, buf),
		publishTimeout: envDur("NOTIFY_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	logger.Infof("change notifier started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buf, n.publishTimeout, n.handoffTimeout)
	return n
}

// Publish hands the events to the pool. Safe on a nil Notifier so callers
// without a configured sink can skip the nil check.
func (n *Notifier) Publish(events ...domain.ChangeEvent) {
	if n == nil || len(events) == 0 {
		return
	}
	if !n.tryEnqueue(notifyJob{events: events}) {
		n.logger.WithField("count", len(events)).Warn("notify buffer saturated, dropping events")
	}
}

// Close stops the workers after draining buffered jobs.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(func() {
		close(n.jobs)
		n.wg.Wait()
	})
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()
	for j := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
		err := n.sink.PublishEvents(ctx, j.events)
		cancel()

		if err != nil {
			n.logger.Errorf("publish events failed, err: %v, count: %d, worker: %d", err, len(j.events), id)
		}
	}
}

func (n *Notifier) tryEnqueue(job notifyJob) bool {
	if ok, closed := trySendNonBlocking(n.jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if n.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(n.handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(n.jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan notifyJob, job notifyJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan notifyJob, job notifyJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDur(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
