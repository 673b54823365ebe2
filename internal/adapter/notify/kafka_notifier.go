package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// envelope is the wire shape published to the notification topic.
type envelope struct {
	Kind       string    `json:"kind"`
	Payload    any       `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// KafkaNotifier decouples notification delivery from the request lifecycle: a
// bounded channel accepts handoffs without blocking, and a background
// publisher drains it into Kafka. Publish failures are logged and dropped.
type KafkaNotifier struct {
	writer *kafka.Writer
	queue  chan envelope
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewKafkaNotifier(writer *kafka.Writer, queueSize int, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: writer,
		queue:  make(chan envelope, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Enqueue accepts a notification for asynchronous delivery. Returns false
// when the queue is full or the notifier has been closed; it never blocks.
func (n *KafkaNotifier) Enqueue(kind string, payload any) bool {
	msg := envelope{Kind: kind, Payload: payload, EnqueuedAt: time.Now().UTC()}
	select {
	case <-n.done:
		return false
	default:
	}
	select {
	case n.queue <- msg:
		return true
	default:
		n.logger.Warn("notification queue full, dropping", zap.String("kind", kind))
		return false
	}
}

// Run drains the queue until Close is called and the queue is empty. Intended
// to run on its own goroutine.
func (n *KafkaNotifier) Run(ctx context.Context) {
	for msg := range n.queue {
		n.publish(ctx, msg)
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, msg envelope) {
	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("notification encode failed", zap.String("kind", msg.Kind), zap.Error(err))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(msg.Kind),
		Value: body,
	})
	if err != nil {
		n.logger.Error("notification publish failed", zap.String("kind", msg.Kind), zap.Error(err))
	}
}

// Close stops accepting handoffs and lets Run drain what is already queued.
func (n *KafkaNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		close(n.queue)
	})
}
