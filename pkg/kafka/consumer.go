package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "MarketLens/pkg/logger"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// reader is the part of kafka.Reader the consumer drives. Offsets are
// committed explicitly after handling.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type delivery struct {
	handler MessageHandler
	r       reader
	msg     kafka.Message
}

// Consumer fetches registered topics and hands messages to a fixed set of
// lanes. A partition always maps to the same lane, so its messages are
// handled in offset order while different partitions proceed in parallel.
type Consumer struct {
	cfg       ConsumerConfig
	log       *applogger.Logger
	hook      ConsumerHook
	handlers  map[string]MessageHandler
	readers   map[string]reader
	newReader func(topic string) reader
	dlq       writer

	ctx      context.Context
	cancel   context.CancelFunc
	lanes    []chan delivery
	fetchWG  sync.WaitGroup
	laneWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := check("consumer", &cfg); err != nil {
		return nil, err
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     HookFuncs{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]reader),
	}
	if c.log == nil {
		c.log = applogger.Nop()
	}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       topic,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			StartOffset: kafka.FirstOffset,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.DLQTopic,
			Balancer: &kafka.Hash{},
		}
	}
	return c, nil
}

// WithConsumerHook replaces the hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds handler to its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.lanes = make([]chan delivery, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan delivery, c.cfg.LaneBuffer)
		c.laneWG.Add(1)
		go c.runLane(i)
	}

	for topic, h := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		c.fetchWG.Add(1)
		go c.fetch(h, r)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("topics", len(c.handlers)),
		applogger.Int("lanes", len(c.lanes)),
		applogger.String("group", c.cfg.GroupID))
	return nil
}

// Stop ends fetching, lets the lanes drain and closes readers. Messages
// still queued when ctx expires are not committed and will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()

		drained := make(chan struct{})
		go func() {
			c.fetchWG.Wait()
			for _, lane := range c.lanes {
				close(lane)
			}
			c.laneWG.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka dlq close failed", applogger.Error(cerr))
			}
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(h MessageHandler, r reader) {
	defer c.fetchWG.Done()
	topic := h.Topic()

	for failures := 0; ; {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Error("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		i := laneFor(topic, msg.Partition, len(c.lanes))
		select {
		case c.lanes[i] <- delivery{handler: h, r: r, msg: msg}:
			instruments().laneDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(c.lanes[i])))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) runLane(i int) {
	defer c.laneWG.Done()
	for d := range c.lanes[i] {
		c.process(d)
	}
}

// process handles one message with retries, then either commits it or, when
// retries ran out, parks it on the DLQ and commits. Without a DLQ a failed
// message stays uncommitted.
func (c *Consumer) process(d delivery) {
	topic := d.handler.Topic()
	start := time.Now()
	ctx := WithTraceID(context.Background(), ExtractTraceID(d.msg))

	attempts, err := c.attempt(ctx, d)
	outcome := "ok"
	if err != nil {
		if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		c.hook.OnError(ctx, topic, d.msg, d.msg.Value, err)
		c.log.Error("kafka handle failed",
			applogger.String("topic", topic),
			applogger.Int("partition", d.msg.Partition),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))

		outcome = "failed"
		if c.dlq == nil {
			instruments().observeHandle(topic, outcome, time.Since(start))
			return
		}
		if derr := c.toDLQ(ctx, d.msg, attempts, err); derr != nil {
			c.log.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(derr))
			instruments().observeHandle(topic, outcome, time.Since(start))
			return
		}
		outcome = "dlq"
	}

	c.commit(d)
	instruments().observeHandle(topic, outcome, time.Since(start))
}

func (c *Consumer) attempt(ctx context.Context, d delivery) (int, error) {
	for n := 1; ; n++ {
		err := c.invoke(ctx, d)
		if err == nil || n > c.cfg.RetryMax {
			return n, err
		}
		if !c.sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, n)) {
			return n, context.Canceled
		}
	}
}

func (c *Consumer) invoke(ctx context.Context, d delivery) (err error) {
	topic := d.handler.Topic()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	hctx, km, data, err := c.hook.BeforeHandle(ctx, topic, d.msg, d.msg.Value)
	if err != nil {
		return err
	}
	err = d.handler.Handle(hctx, data)
	c.hook.AfterHandle(hctx, topic, km, data, err)
	return err
}

func (c *Consumer) toDLQ(ctx context.Context, msg kafka.Message, attempts int, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now().UTC(),
		Headers: append(msg.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
}

func (c *Consumer) commit(d delivery) {
	var err error
	for n := 1; n <= 3; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = d.r.CommitMessages(ctx, d.msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, n))
	}
	c.log.Error("kafka commit failed",
		applogger.String("topic", d.msg.Topic),
		applogger.Int64("offset", d.msg.Offset),
		applogger.Error(err))
}

// sleep waits d or until the consumer stops; false means it stopped.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func laneFor(topic string, partition, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(lanes))
}

// backoffWithJitter doubles min per attempt up to max, then takes off up to
// half of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if attempt < 32 {
		if exp := min << (attempt - 1); exp > 0 && exp < max {
			d = exp
		}
	}
	return d - rand.N(d/2+1)
}
