package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NewAuditLog opens a writer under dir that rotates daily (UTC) and keeps
// thirty days of files.  license-audit.log links to the current file.
func NewAuditLog(dir string) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return rotatelogs.New(
		filepath.Join(dir, "license-audit.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "license-audit.log")),
		rotatelogs.WithClock(rotatelogs.UTC),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
}

// AuditConsumer drains the lifecycle queue into an audit log.
type AuditConsumer struct {
	url string
	log *zap.SugaredLogger

	mu  sync.Mutex // serialises writes to out
	out io.Writer
}

// NewAuditConsumer builds a consumer writing one line per event to out.
func NewAuditConsumer(url string, out io.Writer, log *zap.SugaredLogger) *AuditConsumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AuditConsumer{url: url, out: out, log: log}
}

// Run connects to the broker and consumes until ctx is cancelled, redialling
// with exponential backoff (capped at 30s) whenever the connection drops.
func (c *AuditConsumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warnw("audit consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warnw("audit consumer: consume loop ended, reconnecting", "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warnw("audit consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.log.Warnw("audit consumer: handle message failed", "error", err)
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *AuditConsumer) handle(body []byte) error {
	var ev LicenseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, FormatAuditLine(ev)); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// FormatAuditLine renders ev as a single newline-terminated audit record.
func FormatAuditLine(ev LicenseEvent) string {
	from := ev.From
	if from == "" {
		from = "new"
	}
	line := fmt.Sprintf("[%s] license=%s login=%d server=%q %s -> %s | source=%s",
		ev.At.UTC().Format(time.RFC3339), ev.LicenseID, ev.Login, ev.Server, from, ev.To, ev.Source)
	if ev.Upstream != "" {
		line += " | upstream=" + ev.Upstream
	}
	if ev.RunID != "" {
		line += " | run=" + ev.RunID
	}
	if ev.Note != "" {
		line += fmt.Sprintf(" | note=%q", ev.Note)
	}
	return line + " | id=" + ev.ID + "\n"
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
