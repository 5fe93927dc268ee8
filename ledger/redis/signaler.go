package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/dogmatiq/mergedeploy/lock"
	redis "github.com/redis/go-redis/v9"
)

// Signaler is an implementation of lock.Signaler that uses Redis pub/sub to
// deliver signals between processes.
type Signaler struct {
	// Client is the Redis client used to publish and subscribe.
	Client redis.UniversalClient

	// Prefix is prepended to all channel names. If it is empty, DefaultPrefix
	// is used.
	Prefix string
}

var _ lock.Signaler = (*Signaler)(nil)

// Listen starts listening for signals sent to token.
//
// It blocks until the subscription is confirmed by the server, so that no
// signal sent after Listen() returns is missed.
func (s *Signaler) Listen(ctx context.Context, token string) (lock.Listener, error) {
	sub := s.Client.Subscribe(ctx, s.channel(token))

	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("unable to subscribe to signals: %w", err)
	}

	l := &listener{
		sub:  sub,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go l.run()

	return l, nil
}

// Signal sends a signal to the listeners for token, if any.
func (s *Signaler) Signal(ctx context.Context, token string) error {
	if err := s.Client.Publish(ctx, s.channel(token), "proceed").Err(); err != nil {
		return fmt.Errorf("unable to publish signal: %w", err)
	}

	return nil
}

func (s *Signaler) channel(token string) string {
	p := s.Prefix
	if p == "" {
		p = DefaultPrefix
	}

	return p + "signal:" + token
}

type listener struct {
	sub  *redis.PubSub
	ch   chan struct{}
	once sync.Once
	done chan struct{}
}

func (l *listener) Signaled() <-chan struct{} {
	return l.ch
}

func (l *listener) Close() error {
	var err error

	l.once.Do(func() {
		err = l.sub.Close()
		<-l.done
	})

	return err
}

func (l *listener) run() {
	defer close(l.done)

	for range l.sub.Channel() {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}
