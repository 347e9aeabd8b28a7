// Package queue is an unbounded FIFO of raw frames shared between the
// goroutines that talk to different peers
package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

var ErrEmpty = errors.New("queue is empty")

type Queue struct {
	name string

	lock  sync.Mutex
	items *list.List

	// signalled, without blocking, every time an item is added
	notify chan struct{}
}

func New(name string) *Queue {
	return &Queue{
		name:   name,
		items:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Put(message []byte) {
	q.lock.Lock()
	q.items.PushBack(message)
	q.lock.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) GetNowait() ([]byte, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil, ErrEmpty
	}
	return q.items.Remove(front).([]byte), nil
}

// Get blocks until an item is available or ctx is done
func (q *Queue) Get(ctx context.Context) ([]byte, error) {
	for {
		if message, err := q.GetNowait(); err == nil {
			return message, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.items.Len()
}

// Drain discards everything currently queued and returns how much was dropped
func (q *Queue) Drain() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	n := q.items.Len()
	q.items.Init()
	return n
}
