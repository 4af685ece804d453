package queue

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishStampsAndQueues(t *testing.T) {
	p := NewPublisher("amqp://unused", 1, nil)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	p.Publish(LicenseEvent{LicenseID: "l1", To: "approved"})
	require.Len(t, p.events, 1)
	ev := <-p.events
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventStatusChanged, ev.Type)
	assert.Equal(t, at, ev.At)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	p := NewPublisher("amqp://unused", 1, nil)
	p.Publish(LicenseEvent{LicenseID: "first"})
	p.Publish(LicenseEvent{LicenseID: "second"})

	require.Len(t, p.events, 1)
	assert.Equal(t, "first", (<-p.events).LicenseID)
}

func TestFormatAuditLine(t *testing.T) {
	ev := LicenseEvent{
		ID:        "evt1",
		LicenseID: "lic1",
		Login:     12345678,
		Server:    "Broker-Live",
		From:      "approved",
		To:        "revoked",
		Upstream:  "INACTIVE",
		Source:    SourceSync,
		RunID:     "run1",
		Note:      "Auto-revoked",
		At:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t,
		`[2025-03-01T00:00:00Z] license=lic1 login=12345678 server="Broker-Live" approved -> revoked | source=sync | upstream=INACTIVE | run=run1 | note="Auto-revoked" | id=evt1`+"\n",
		FormatAuditLine(ev))

	line := FormatAuditLine(LicenseEvent{ID: "e", LicenseID: "l", To: "pending", Source: SourceActivation})
	assert.Contains(t, line, "new -> pending | source=activation | id=e")
}

func TestAuditConsumerHandle(t *testing.T) {
	var buf bytes.Buffer
	c := NewAuditConsumer("amqp://unused", &buf, nil)

	body, err := json.Marshal(LicenseEvent{ID: "e1", LicenseID: "l1", To: "approved", Source: SourceAdmin})
	require.NoError(t, err)
	require.NoError(t, c.handle(body))
	assert.Contains(t, buf.String(), "license=l1")

	assert.Error(t, c.handle([]byte("not json")))
}

func TestNewAuditLogWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	w, err := NewAuditLog(dir)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	name := filepath.Join(dir, "license-audit."+time.Now().UTC().Format("20060102")+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}
