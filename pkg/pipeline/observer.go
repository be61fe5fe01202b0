// ABOUTME: Pipeline state and the observer notification goroutine
// ABOUTME: Notifications reach observers in the order they were raised
package pipeline

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// State is the transport state reported to observers
type State int

const (
	StatePlaying State = iota
	StatePaused
	StateStopped
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Observer receives pipeline notifications. Calls come from one goroutine.
type Observer interface {
	NotifyPipelineState(state State, buffering bool)
	NotifyMode(mode string, info msg.ModeInfo)
	NotifyTrack(track msg.Track, mode string, startOfStream bool)
	NotifyMetaText(text string)
	// NotifyTime reports playback position and track length in seconds
	NotifyTime(seconds, trackSeconds uint32)
	NotifyStreamInfo(info msg.DecodedStreamInfo)
}

// notifier runs observer callbacks on a dedicated goroutine. Posting never
// blocks: events queue without bound until the goroutine drains them.
type notifier struct {
	logger zerolog.Logger

	mu        sync.Mutex
	observers []Observer
	queue     []func(Observer)
	closed    bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier(logger zerolog.Logger) *notifier {
	n := &notifier{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) add(o Observer) {
	n.mu.Lock()
	n.observers = append(n.observers, o)
	n.mu.Unlock()
}

// post queues a notification. Posts after close are dropped.
func (n *notifier) post(f func(Observer)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, f)
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		for {
			n.mu.Lock()
			batch := n.queue
			n.queue = nil
			closed := n.closed
			observers := append([]Observer(nil), n.observers...)
			n.mu.Unlock()

			for _, f := range batch {
				for _, o := range observers {
					f(o)
				}
			}
			if len(batch) == 0 {
				if closed {
					n.logger.Debug().Msg("Observer notifications stopped")
					return
				}
				break
			}
		}
	}
}

// close delivers everything already posted and then stops the goroutine
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
	<-n.done
}
