package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueueConfig configures the Redis Streams event queue used when the bot
// and its workers run in separate processes.
type RedisQueueConfig struct {
	Addr         string
	Username     string
	Password     string
	Stream       string
	Group        string
	Buffer       int
	BlockTimeout time.Duration
	Logger       *slog.Logger
}

// NewRedisQueue initialises a session event queue backed by Redis Streams.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "mediafetch:sessions"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "dispatch"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		MaxRetries: 2,
	})
	queue := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		buffer:       cfg.Buffer,
		blockTimeout: cfg.BlockTimeout,
		logger:       logger,
	}
	if err := queue.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

type redisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	buffer       int
	blockTimeout time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

func (q *redisQueue) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		queue:    q,
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Event, q.buffer),
	}
	go sub.run(ctx)
	return sub
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groupReady.Store(true)
	return nil
}

type redisSubscription struct {
	queue    *redisQueue
	consumer string
	cancel   context.CancelFunc

	once sync.Once
	ch   chan Event
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

func (s *redisSubscription) run(ctx context.Context) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.queue.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.queue.group,
			Consumer: s.consumer,
			Streams:  []string{s.queue.stream, ">"},
			Count:    32,
			Block:    s.queue.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.queue.logger.Warn("session queue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				payload, _ := message.Values["payload"].(string)
				if payload == "" {
					s.ack(ctx, message.ID)
					continue
				}
				var event Event
				if err := json.Unmarshal([]byte(payload), &event); err != nil {
					s.queue.logger.Error("session queue decode failed", "id", message.ID, "error", err)
					s.ack(ctx, message.ID)
					continue
				}
				select {
				case s.ch <- event:
					s.ack(ctx, message.ID)
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if err := s.queue.client.XAck(ctx, s.queue.stream, s.queue.group, id).Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.queue.logger.Warn("session queue ack failed", "id", id, "error", err)
	}
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buf)
}
