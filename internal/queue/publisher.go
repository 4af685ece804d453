package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher buffers lifecycle events and ships them to RabbitMQ from a
// single background goroutine, so request handlers never wait on the broker.
// Events that do not fit in the buffer, or that fail to publish, are logged
// and dropped.
type Publisher struct {
	url    string
	log    *zap.SugaredLogger
	events chan LicenseEvent
	now    func() time.Time
}

// NewPublisher returns a Publisher with room for buffer pending events.
// Nothing is sent until Run is started.
func NewPublisher(url string, buffer int, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		url:    url,
		log:    log,
		events: make(chan LicenseEvent, buffer),
		now:    time.Now,
	}
}

// Publish stamps ev with an id, type and timestamp when missing and queues
// it without blocking.
func (p *Publisher) Publish(ev LicenseEvent) {
	if ev.ID == "" {
		ev.ID = ksuid.New().String()
	}
	if ev.Type == "" {
		ev.Type = EventStatusChanged
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warnw("event buffer full, dropping event", "event_id", ev.ID, "license_id", ev.LicenseID)
	}
}

// Run publishes queued events until ctx is cancelled.  The broker connection
// is opened lazily and reopened after a failed publish.
func (p *Publisher) Run(ctx context.Context) {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)
	closeConn := func() {
		if ch != nil {
			_ = ch.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
		conn, ch = nil, nil
	}
	defer closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			if ch == nil {
				var err error
				if conn, ch, err = p.open(); err != nil {
					p.log.Warnw("rabbitmq unavailable, dropping event", "event_id", ev.ID, "error", err)
					closeConn()
					continue
				}
			}
			if err := p.send(ctx, ch, ev); err != nil {
				p.log.Warnw("rabbitmq publish failed", "event_id", ev.ID, "error", err)
				closeConn()
			}
		}
	}
}

func (p *Publisher) open() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return conn, nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return conn, ch, fmt.Errorf("queue declare: %w", err)
	}
	return conn, ch, nil
}

func (p *Publisher) send(ctx context.Context, ch *amqp.Channel, ev LicenseEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.At,
		Body:         body,
	})
}
