package memory

import (
	"sync"

	"Quill/internal/docstore"
)

// listener queues snapshots for one subscription and delivers them in order
// on its own goroutine, so callbacks may call back into the store
type listener struct {
	fn    func(*docstore.Snapshot)
	wake  chan struct{}
	done  chan struct{}
	path  string
	queue []*docstore.Snapshot
	id    uint64
	mu    sync.Mutex
	once  sync.Once
}

func newListener(id uint64, path string, fn func(*docstore.Snapshot)) *listener {
	return &listener{
		id:   id,
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *listener) enqueue(s *docstore.Snapshot) {
	l.mu.Lock()
	l.queue = append(l.queue, s)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			next := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			select {
			case <-l.done:
				return
			default:
			}
			l.fn(next)
		}
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}
