package node

import (
	"github.com/sasha-s/go-deadlock"
)

// Topic fans values out to subscribers. Each subscriber holds at most one
// pending value; a newer value replaces an unread one, so a slow reader
// sees the latest state rather than stalling the publisher.
type Topic[T any] struct {
	subscribers map[chan T]struct{}
	mutex       deadlock.Mutex
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[chan T]struct{}),
	}
}

func (t *Topic[T]) Publish(value T) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for subscriber := range t.subscribers {
		select {
		case subscriber <- value:
			continue
		default:
		}
		select {
		case <-subscriber:
		default:
		}
		subscriber <- value
	}
}

type Subscriber[T any] struct {
	channel chan T
	topic   *Topic[T]
}

func (t *Topic[T]) Subscribe() *Subscriber[T] {
	channel := make(chan T, 1)
	t.mutex.Lock()
	t.subscribers[channel] = struct{}{}
	t.mutex.Unlock()

	return &Subscriber[T]{channel, t}
}

func (s *Subscriber[T]) Recv() <-chan T {
	return s.channel
}

func (s *Subscriber[T]) Done() {
	topic := s.topic
	topic.mutex.Lock()
	delete(topic.subscribers, s.channel)
	topic.mutex.Unlock()
}
