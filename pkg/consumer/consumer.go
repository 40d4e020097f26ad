package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

var ErrMalformedMessage = errors.New("malformed message")

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is a decoded message whose offset is not committed yet.
type Delivery[T any] struct {
	Payload T
	Message kafka.Message
}

// Consumer decodes JSON messages of type T from a consumer group. Offsets are
// committed only through Commit, so a job that never finishes is redelivered
// after a restart.
type Consumer[T any] struct {
	reader messageReader

	mu      sync.Mutex
	pending map[int]*partitionOffsets
}

// partitionOffsets keeps fetched offsets in fetch order. Only the finished
// prefix is committed; committing a later offset would skip earlier jobs.
type partitionOffsets struct {
	msgs []kafka.Message
	done map[int64]bool
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return newConsumer[T](r)
}

func newConsumer[T any](r messageReader) *Consumer[T] {
	return &Consumer[T]{reader: r, pending: make(map[int]*partitionOffsets)}
}

// Fetch returns the next message. Undecodable messages are marked done right
// away so they are not redelivered; the error wraps ErrMalformedMessage and
// the caller may keep fetching.
func (c *Consumer[T]) Fetch(ctx context.Context) (Delivery[T], error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery[T]{}, err
	}
	c.track(msg)

	var payload T
	if decodeErr := json.Unmarshal(msg.Value, &payload); decodeErr != nil {
		if err := c.finish(ctx, msg); err != nil {
			return Delivery[T]{}, err
		}
		return Delivery[T]{}, fmt.Errorf("%w at offset %d: %v", ErrMalformedMessage, msg.Offset, decodeErr)
	}
	return Delivery[T]{Payload: payload, Message: msg}, nil
}

// Commit marks d as processed and commits every finished offset that has no
// unfinished offset before it in the same partition.
func (c *Consumer[T]) Commit(ctx context.Context, d Delivery[T]) error {
	return c.finish(ctx, d.Message)
}

func (c *Consumer[T]) track(msg kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		c.pending[msg.Partition] = p
	}
	p.msgs = append(p.msgs, msg)
}

func (c *Consumer[T]) finish(ctx context.Context, msg kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[msg.Partition]
	if !ok {
		return fmt.Errorf("commit offset %d: message was not fetched", msg.Offset)
	}
	p.done[msg.Offset] = true

	var last *kafka.Message
	for len(p.msgs) > 0 && p.done[p.msgs[0].Offset] {
		m := p.msgs[0]
		delete(p.done, m.Offset)
		p.msgs = p.msgs[1:]
		last = &m
	}
	if last == nil {
		return nil
	}
	// held under mu so commits for a partition never go backwards
	if err := c.reader.CommitMessages(ctx, *last); err != nil {
		return fmt.Errorf("commit offset %d: %w", last.Offset, err)
	}
	return nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
