package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"cohortd/internal/config"
)

// kafkaQueue adapts a Kafka topic to the Queue contract. Acknowledgement
// maps onto consumer-group offset commits: Delete marks a message done and
// the queue commits the highest contiguous done offset per partition, so a
// message left unacknowledged holds its partition's commit position and is
// redelivered after a restart or rebalance while later messages still get
// processed in the meantime.
type kafkaQueue struct {
	cfg    config.QueueConfig
	logger *slog.Logger

	mu      sync.Mutex
	reader  *kafka.Reader
	windows map[int]*partitionWindow
}

type partitionWindow struct {
	msgs []kafka.Message
	done []bool
	next int // index of the first message not yet committed
}

func NewKafka(cfg config.QueueConfig, logger *slog.Logger) Queue {
	return &kafkaQueue{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[int]*partitionWindow),
	}
}

func (q *kafkaQueue) EnsureQueue(ctx context.Context) error {
	if len(q.cfg.Brokers) == 0 {
		return errors.New("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", q.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             q.cfg.Topic,
		NumPartitions:     q.cfg.Partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func (q *kafkaQueue) getReader() *kafka.Reader {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reader == nil {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.cfg.Brokers,
			Topic:    q.cfg.Topic,
			GroupID:  q.cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		})
	}
	return q.reader
}

func (q *kafkaQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	reader := q.getReader()
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	out := make([]Message, 0, max)
	for len(out) < max {
		m, err := reader.FetchMessage(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return out, err
		}
		q.track(m)
		out = append(out, Message{Partition: m.Partition, Offset: m.Offset, Body: m.Value})
	}
	return out, nil
}

func (q *kafkaQueue) track(m kafka.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.windows[m.Partition]
	if !ok {
		w = &partitionWindow{}
		q.windows[m.Partition] = w
	}
	w.msgs = append(w.msgs, m)
	w.done = append(w.done, false)
}

func (q *kafkaQueue) Delete(ctx context.Context, msg Message) error {
	q.mu.Lock()
	w, ok := q.windows[msg.Partition]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	for i := w.next; i < len(w.msgs); i++ {
		if w.msgs[i].Offset == msg.Offset {
			w.done[i] = true
			break
		}
	}
	var commit kafka.Message
	committed := false
	for w.next < len(w.msgs) && w.done[w.next] {
		commit = w.msgs[w.next]
		committed = true
		w.next++
	}
	if committed {
		// Drop the committed prefix; a fresh slice releases the payload
		// bytes of the old backing array.
		w.msgs = append([]kafka.Message(nil), w.msgs[w.next:]...)
		w.done = append([]bool(nil), w.done[w.next:]...)
		w.next = 0
	}
	reader := q.reader
	q.mu.Unlock()

	if !committed || reader == nil {
		return nil
	}
	return reader.CommitMessages(ctx, commit)
}

func (q *kafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reader != nil {
		return q.reader.Close()
	}
	return nil
}
