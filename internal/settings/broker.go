package settings

import (
	"context"
	"path"
	"sync"
	"time"
)

// subscriberBuffer bounds how far a subscriber may fall behind before
// changes are dropped for it.
const subscriberBuffer = 64

// Change describes one modified key. Key is "features.<flag>",
// "general.<setting>", "headingOpened.<heading>" or "logging.minLevels".
type Change struct {
	Key string `json:"key"`
	Old any    `json:"old"`
	New any    `json:"new"`
	TS  int64  `json:"ts"`
}

type broker struct {
	mu          sync.Mutex
	subscribers []*subscriber
}

type subscriber struct {
	pattern string
	buf     chan Change
	closed  chan struct{}
}

// publish fans a change out to every subscriber whose pattern matches its
// key. It never blocks: a subscriber with a full buffer misses the change.
func (b *broker) publish(c Change) (sent, dropped int) {
	if c.TS == 0 {
		c.TS = time.Now().UnixNano()
	}

	b.mu.Lock()
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs {
		if matches, _ := path.Match(sub.pattern, c.Key); !matches {
			continue
		}
		select {
		case sub.buf <- c:
			sent++
		case <-sub.closed:
		default:
			dropped++
		}
	}
	return sent, dropped
}

// subscribe returns a channel of changes whose key matches pattern. The
// channel is closed once ctx is done.
func (b *broker) subscribe(ctx context.Context, pattern string) <-chan Change {
	newSub := &subscriber{
		pattern: pattern,
		buf:     make(chan Change, subscriberBuffer),
		closed:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers[:len(b.subscribers):len(b.subscribers)], newSub)
	b.mu.Unlock()

	results := make(chan Change)
	go func() {
		defer func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			close(newSub.closed)
			close(results)

			for i, sub := range b.subscribers {
				if newSub == sub {
					next := make([]*subscriber, 0, len(b.subscribers)-1)
					next = append(next, b.subscribers[:i]...)
					b.subscribers = append(next, b.subscribers[i+1:]...)
					return
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-newSub.buf:
				select {
				case <-ctx.Done():
					return
				case results <- c:
				}
			}
		}
	}()
	return results
}
