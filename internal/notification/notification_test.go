package notification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/repository/memory"
	"payments-gateway/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingChannel struct {
	name ChannelName
	err  error

	mu    sync.Mutex
	calls []Event
}

func (c *recordingChannel) Name() ChannelName { return c.name }

func (c *recordingChannel) Deliver(ctx context.Context, n Notifiable, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, e)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakePublisher struct {
	ids    []string
	bodies [][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, messageID string, body []byte) error {
	p.ids = append(p.ids, messageID)
	p.bodies = append(p.bodies, body)
	return nil
}

type fakeWriter struct {
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func sampleTransaction() *domain.Transaction {
	return &domain.Transaction{
		Reference:    "MTN-0123456789AB",
		ProviderCode: "MTN",
		Type:         domain.TypeCollection,
		Amount:       decimal.NewFromInt(100),
		Currency:     "ZMW",
		Fee:          decimal.NewFromInt(2),
	}
}

func TestChannels(t *testing.T) {
	tx := sampleTransaction()
	clean := &domain.Reconciliation{ID: uuid.New(), ProviderCode: "MTN"}
	dirty := &domain.Reconciliation{ID: uuid.New(), ProviderCode: "MTN", DiscrepancyCount: 2, DiscrepancyAmount: decimal.NewFromInt(40)}

	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelBroadcast}, Channels(PaymentCompleted(tx)))
	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelMail, ChannelBroadcast}, Channels(PaymentFailed(tx)))
	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelMail}, Channels(PaymentMaxRetries(tx)))
	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelBroadcast}, Channels(ReconciliationCompleted(clean, "ZMW")))
	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelMail, ChannelBroadcast}, Channels(ReconciliationCompleted(dirty, "ZMW")))
	assert.Equal(t, []ChannelName{ChannelDatabase}, Channels(InvoiceApproved(&domain.SmartInvoice{})))
	assert.Equal(t, []ChannelName{ChannelDatabase, ChannelMail}, Channels(InvoiceRejected(&domain.SmartInvoice{})))
	assert.Equal(t, []ChannelName{ChannelMail, ChannelBroadcast}, Channels(ProviderAuthFailed("MTN", "bad key")))
}

func TestReconciliationCompleted_Payload(t *testing.T) {
	rec := &domain.Reconciliation{
		ID:                uuid.New(),
		ProviderCode:      "MTN",
		TotalCount:        3,
		TotalAmount:       decimal.NewFromInt(300),
		MatchedCount:      2,
		MatchedAmount:     decimal.NewFromInt(200),
		DiscrepancyCount:  1,
		DiscrepancyAmount: decimal.NewFromInt(100),
	}

	e := ReconciliationCompleted(rec, "ZMW")

	assert.Equal(t, SeverityWarning, e.Severity)
	assert.Equal(t, true, e.Data["has_discrepancies"])
	assert.Equal(t, "100.00", e.Data["discrepancy_amount"])
	assert.Contains(t, e.Subject, "ZMW 100.00")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "ZMW 100.00", FormatAmount(decimal.NewFromInt(100), "ZMW"))
	assert.Equal(t, "ZMW 0.50", FormatAmount(decimal.RequireFromString("0.499"), "ZMW"))
}

func TestDispatcher_SelectsChannels(t *testing.T) {
	db := &recordingChannel{name: ChannelDatabase}
	mail := &recordingChannel{name: ChannelMail}
	broadcast := &recordingChannel{name: ChannelBroadcast}
	d := NewDispatcher(nil, discardLogger(), db, mail, broadcast)

	d.Send(context.Background(), Notifiable{Type: "finance", ID: "global"}, PaymentCompleted(sampleTransaction()))

	assert.Equal(t, 1, db.count())
	assert.Equal(t, 0, mail.count())
	assert.Equal(t, 1, broadcast.count())
}

func TestDispatcher_SkipsMissingChannels(t *testing.T) {
	db := &recordingChannel{name: ChannelDatabase}
	d := NewDispatcher(nil, discardLogger(), db, nil)

	d.Send(context.Background(), Notifiable{Type: "finance", ID: "global"}, PaymentFailed(sampleTransaction()))

	assert.Equal(t, 1, db.count())
}

func TestDispatcher_JobsAreIdempotent(t *testing.T) {
	db := &recordingChannel{name: ChannelDatabase}
	d := NewDispatcher(nil, discardLogger(), db)
	e := InvoiceApproved(&domain.SmartInvoice{InvoiceNumber: "INV-1"})
	n := Notifiable{Type: "finance", ID: "global"}

	d.Send(context.Background(), n, e)
	d.Send(context.Background(), n, e)

	assert.Equal(t, 1, db.count())
}

func TestDispatcher_FailedDeliveryCanBeRetried(t *testing.T) {
	db := &recordingChannel{name: ChannelDatabase, err: stderrors.New("db down")}
	d := NewDispatcher(nil, discardLogger(), db)
	e := InvoiceApproved(&domain.SmartInvoice{InvoiceNumber: "INV-1"})
	n := Notifiable{Type: "finance", ID: "global"}

	d.Send(context.Background(), n, e)
	db.err = nil
	d.Send(context.Background(), n, e)

	assert.Equal(t, 2, db.count())
}

func TestDispatcher_UsesPool(t *testing.T) {
	pool := worker.NewPool(2, discardLogger())
	db := &recordingChannel{name: ChannelDatabase}
	broadcast := &recordingChannel{name: ChannelBroadcast}
	d := NewDispatcher(pool, discardLogger(), db, broadcast)

	for i := 0; i < 5; i++ {
		d.Send(context.Background(), Notifiable{Type: "finance", ID: "global"}, PaymentCompleted(sampleTransaction()))
	}
	pool.Stop()

	assert.Equal(t, 5, db.count())
	assert.Equal(t, 5, broadcast.count())
}

func TestDatabaseChannel_Idempotent(t *testing.T) {
	store := memory.NewStore()
	channel := NewDatabaseChannel(store)
	e := PaymentCompleted(sampleTransaction())
	n := Notifiable{Type: "finance", ID: "global"}

	require.NoError(t, channel.Deliver(context.Background(), n, e))
	require.NoError(t, channel.Deliver(context.Background(), n, e))

	records, err := store.Notifications().ListForNotifiable(context.Background(), "finance", "global")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(KindPaymentCompleted), records[0].Kind)
}

func TestMailChannel(t *testing.T) {
	publisher := &fakePublisher{}
	channel := NewMailChannel(publisher, discardLogger())
	e := PaymentFailed(sampleTransaction())

	require.NoError(t, channel.Deliver(context.Background(), Notifiable{Type: "finance", ID: "global"}, e))
	assert.Empty(t, publisher.bodies)

	require.NoError(t, channel.Deliver(context.Background(), Notifiable{Type: "finance", ID: "global", Email: "finance@acme.test"}, e))
	require.Len(t, publisher.bodies, 1)

	var msg MailMessage
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &msg))
	assert.Equal(t, "finance@acme.test", msg.To)
	assert.Equal(t, KindPaymentFailed, msg.Kind)
	assert.Contains(t, msg.Body, "reference: MTN-0123456789AB")
	assert.Equal(t, e.ID.String()+":finance@acme.test", publisher.ids[0])
}

func TestBroadcastChannel(t *testing.T) {
	writer := &fakeWriter{}
	channel := NewBroadcastChannel(writer)
	e := PaymentCompleted(sampleTransaction())

	require.NoError(t, channel.Deliver(context.Background(), Notifiable{Type: "finance", ID: "global"}, e))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, e.ID.String(), string(writer.messages[0].Key))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &payload))
	assert.Equal(t, string(KindPaymentCompleted), payload["kind"])
	assert.Equal(t, "finance", payload["notifiable"].(map[string]any)["type"])
}
