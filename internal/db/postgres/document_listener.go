package postgres

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"Quill/internal/docstore"
)

// changeChannel is the NOTIFY channel written by the documents trigger. The
// payload is "collection/key" of the changed row.
const changeChannel = "documents_changed"

// Notifier is the part of *pq.Listener the store uses
type Notifier interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewListener opens a reconnecting LISTEN connection for dsn
func NewListener(dsn string, logger *slog.Logger) *pq.Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn("document listener connection problem", "event", ev, "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("document listener reconnected")
		}
	})
}

// subscription re-reads its path whenever it is woken and delivers the
// snapshot if it differs from the last one. Wakeups coalesce, which is safe
// because every delivery is a full snapshot.
type subscription struct {
	store *DocumentStore
	fn    func(*docstore.Snapshot)
	last  *docstore.Snapshot
	wake  chan struct{}
	done  chan struct{}
	path  string
	once  sync.Once
}

func (sub *subscription) signal() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

func (sub *subscription) run() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		snap, err := sub.store.Get(context.Background(), sub.path)
		if err != nil {
			sub.store.logger.Warn("failed to refresh subscription", "path", sub.path, "error", err)
			continue
		}
		if sub.last != nil && sub.last.Version == snap.Version && bytes.Equal(sub.last.Value, snap.Value) {
			continue
		}
		select {
		case <-sub.done:
			return
		default:
		}
		sub.last = snap
		sub.fn(snap)
	}
}

// OnValue implements docstore.Store. Without a notifier only writes made
// through this store are observed.
func (s *DocumentStore) OnValue(ctx context.Context, path string, fn func(*docstore.Snapshot)) (docstore.Unsubscribe, error) {
	loc, err := s.locate(path)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		store: s,
		fn:    fn,
		path:  loc.path,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.run()
	sub.signal()

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.stop()
	}
	stopOnCancel := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stopOnCancel()
		unsubscribe()
	}, nil
}

// Subscribers returns the number of live subscriptions
func (s *DocumentStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notify wakes every subscription related to path. An empty path wakes all.
func (s *DocumentStore) notify(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if path == "" || docstore.Related(sub.path, path) {
			sub.signal()
		}
	}
}

func (s *DocumentStore) dispatch() {
	ch := s.notifier.NotificationChannel()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if n == nil {
				// the listener reconnected and may have missed notifications
				s.notify("")
				continue
			}
			s.notify(n.Extra)
		}
	}
}
