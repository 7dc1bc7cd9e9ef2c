// Package notify implements the single Notifier collaborator called for by
// the source-pattern replacement in spec.md §9: a bounded, best-effort sink
// that can never block trading. The Discord notifier itself is out of
// scope; LogNotifier stands in for it here.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event is a fire-and-forget notification emitted by the portfolio engine.
type Event struct {
	Kind    string
	Payload map[string]interface{}
}

// Notifier delivers Events best-effort; Send must never block the caller
// for longer than it takes to enqueue.
type Notifier interface {
	Send(kind string, payload map[string]interface{})
	Close()
}

// NopNotifier discards every event; used in tests and when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) Send(string, map[string]interface{}) {}
func (NopNotifier) Close()                              {}

// LogNotifier drains a bounded queue on a single worker goroutine and logs
// each event through a dedicated logrus instance, keeping the audit trail of
// trading events separate from the operational console log in ./logger.
type LogNotifier struct {
	log   *logrus.Logger
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewLogNotifier starts the worker goroutine. capacity bounds the queue;
// once full, the oldest undelivered event is dropped rather than blocking
// the dispatcher, matching the drop-oldest policy used for the tick buffer.
func NewLogNotifier(capacity int) *LogNotifier {
	if capacity <= 0 {
		capacity = 256
	}
	n := &LogNotifier{
		log:   logrus.New(),
		queue: make(chan Event, capacity),
		done:  make(chan struct{}),
	}
	n.log.SetFormatter(&logrus.JSONFormatter{})
	go n.run()
	return n
}

func (n *LogNotifier) run() {
	for {
		select {
		case ev, ok := <-n.queue:
			if !ok {
				close(n.done)
				return
			}
			n.log.WithFields(logrus.Fields(ev.Payload)).Info(ev.Kind)
		}
	}
}

func (n *LogNotifier) Send(kind string, payload map[string]interface{}) {
	ev := Event{Kind: kind, Payload: payload}
	select {
	case n.queue <- ev:
	default:
		// queue full: drop oldest, then retry once
		select {
		case <-n.queue:
		default:
		}
		select {
		case n.queue <- ev:
		default:
		}
	}
}

func (n *LogNotifier) Close() {
	n.once.Do(func() {
		close(n.queue)
	})
	<-n.done
}
