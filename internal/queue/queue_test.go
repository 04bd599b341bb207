package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/model"
	"cohortd/internal/rules"
	"cohortd/internal/store"
)

func TestParsePayload(t *testing.T) {
	c, err := ParsePayload([]byte(`{"customerId":"c1","dailySpend":4000,"userType":"PAID"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ID != "c1" || c.DailySpend == nil || *c.DailySpend != 4000 || c.UserType != model.UserPaid {
		t.Fatalf("parsed customer: %+v", c)
	}

	c, err = ParsePayload([]byte(`{"customerId":"c2","userType":"FREE"}`))
	if err != nil {
		t.Fatalf("parse without spend: %v", err)
	}
	if c.DailySpend != nil {
		t.Fatalf("missing spend should stay nil")
	}

	if _, err := ParsePayload([]byte(`{"dailySpend":1,"userType":"PAID"}`)); err == nil {
		t.Fatalf("missing customerId should fail")
	}
	if _, err := ParsePayload([]byte(`{"customerId":"c3","userType":"TRIAL"}`)); err == nil {
		t.Fatalf("unknown user type should fail")
	}
	if _, err := ParsePayload([]byte(`not json`)); err == nil {
		t.Fatalf("malformed body should fail")
	}
}

// fakeQueue delivers pending messages until they are acknowledged, like an
// at-least-once queue.
type fakeQueue struct {
	pending    []Message
	ensureErr  error
	receiveErr error
	receives   int
	nextOffset int64
}

func (q *fakeQueue) push(body string) {
	q.pending = append(q.pending, Message{Offset: q.nextOffset, Body: []byte(body)})
	q.nextOffset++
}

func (q *fakeQueue) EnsureQueue(context.Context) error { return q.ensureErr }

func (q *fakeQueue) Receive(_ context.Context, max int, _ time.Duration) ([]Message, error) {
	q.receives++
	if len(q.pending) < max {
		max = len(q.pending)
	}
	out := make([]Message, max)
	copy(out, q.pending[:max])
	return out, q.receiveErr
}

func (q *fakeQueue) Delete(_ context.Context, msg Message) error {
	for i, m := range q.pending {
		if m.Offset == msg.Offset {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func newConsumerForTest(q Queue, st store.Store) *Consumer {
	cl := classifier.New(rules.NewSet(nil, rules.DefaultRules()...), st, nil)
	cfg := config.QueueConfig{PollInterval: time.Second, MaxMessages: 10, WaitTime: time.Second}
	return NewConsumer(q, st, cl, cfg, nil)
}

func TestPoisonMessageDoesNotBlockBatch(t *testing.T) {
	q := &fakeQueue{}
	q.push(`{"customerId":"c1","dailySpend":6000,"userType":"PAID"}`)
	q.push(`garbage`)
	q.push(`{"customerId":"c3","dailySpend":4000,"userType":"FREE"}`)
	st := store.NewMemory(1)
	cons := newConsumerForTest(q, st)

	cons.PollOnce(context.Background())

	if len(q.pending) != 1 {
		t.Fatalf("only the poisoned message should remain, pending=%d", len(q.pending))
	}
	in, err := st.IsCustomerInCohort(context.Background(), "c1", model.CohortPremium)
	if err != nil || !in {
		t.Fatalf("c1 PREMIUM: in=%v err=%v", in, err)
	}
	in, err = st.IsCustomerInCohort(context.Background(), "c3", model.CohortNormal)
	if err != nil || !in {
		t.Fatalf("c3 NORMAL: in=%v err=%v", in, err)
	}
}

func TestRedeliveryProducesNoDuplicates(t *testing.T) {
	q := &fakeQueue{}
	payload := `{"customerId":"c1","dailySpend":4000,"userType":"PAID"}`
	q.push(payload)
	q.push(payload)
	st := store.NewMemory(1)
	cons := newConsumerForTest(q, st)

	cons.PollOnce(context.Background())

	if len(q.pending) != 0 {
		t.Fatalf("both deliveries should be acknowledged, pending=%d", len(q.pending))
	}
	ids, err := st.CustomerIDsByCohort(context.Background(), model.CohortNormal)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("redelivery must not duplicate membership: %v", ids)
	}
}

func TestEndpointUnavailableSkipsCycle(t *testing.T) {
	q := &fakeQueue{ensureErr: errors.New("queue not provisioned yet")}
	q.push(`{"customerId":"c1","dailySpend":6000,"userType":"PAID"}`)
	cons := newConsumerForTest(q, store.NewMemory(1))

	cons.PollOnce(context.Background())

	if q.receives != 0 {
		t.Fatalf("receive must not run when the endpoint is unavailable")
	}
	if len(q.pending) != 1 {
		t.Fatalf("message should remain pending")
	}
}

func TestPartialBatchProcessedOnReceiveError(t *testing.T) {
	q := &fakeQueue{receiveErr: errors.New("fetch interrupted")}
	q.push(`{"customerId":"c1","dailySpend":6000,"userType":"PAID"}`)
	st := store.NewMemory(1)
	cons := newConsumerForTest(q, st)

	cons.PollOnce(context.Background())

	in, err := st.IsCustomerInCohort(context.Background(), "c1", model.CohortPremium)
	if err != nil || !in {
		t.Fatalf("message fetched before the failure must still be classified: in=%v err=%v", in, err)
	}
	if len(q.pending) != 0 {
		t.Fatalf("message should be acknowledged, pending=%d", len(q.pending))
	}
}

func TestCommitWindowStaysBounded(t *testing.T) {
	q := NewKafka(config.QueueConfig{}, nil).(*kafkaQueue)
	ctx := context.Background()
	for i := int64(0); i < 1000; i++ {
		q.track(kafka.Message{Partition: 0, Offset: i, Value: []byte("payload")})
		if err := q.Delete(ctx, Message{Partition: 0, Offset: i}); err != nil {
			t.Fatalf("ack offset %d: %v", i, err)
		}
	}
	q.mu.Lock()
	w := q.windows[0]
	n, next := len(w.msgs), w.next
	q.mu.Unlock()
	if n != 0 || next != 0 {
		t.Fatalf("acknowledged messages must be released, window len=%d next=%d", n, next)
	}
}

func TestUnackedHeadHoldsCommitWindow(t *testing.T) {
	q := NewKafka(config.QueueConfig{}, nil).(*kafkaQueue)
	ctx := context.Background()
	for i := int64(0); i < 3; i++ {
		q.track(kafka.Message{Partition: 0, Offset: i, Value: []byte("p")})
	}
	// Acknowledge out of order; the unacknowledged head pins the window.
	_ = q.Delete(ctx, Message{Partition: 0, Offset: 2})
	_ = q.Delete(ctx, Message{Partition: 0, Offset: 1})
	q.mu.Lock()
	n := len(q.windows[0].msgs)
	q.mu.Unlock()
	if n != 3 {
		t.Fatalf("window must hold messages until the head is acknowledged, len=%d", n)
	}
	_ = q.Delete(ctx, Message{Partition: 0, Offset: 0})
	q.mu.Lock()
	n = len(q.windows[0].msgs)
	q.mu.Unlock()
	if n != 0 {
		t.Fatalf("acknowledging the head must release the whole prefix, len=%d", n)
	}
}

func TestQueuePathPersistsRawCustomer(t *testing.T) {
	q := &fakeQueue{}
	q.push(`{"customerId":"c1","dailySpend":6000,"userType":"PAID"}`)
	st := store.NewMemory(1)
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	cons := newConsumerForTest(q, st)

	cons.PollOnce(context.Background())

	customers, err := st.ListCustomers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(customers) != 1 || customers[0].ID != "c1" {
		t.Fatalf("raw customer should be persisted: %v", customers)
	}
	// The persisted record also lands on the change feed, converging the
	// two ingestion paths.
	shards, err := st.ListShards(context.Background())
	if err != nil || len(shards) == 0 {
		t.Fatalf("change feed after queue ingest: shards=%v err=%v", shards, err)
	}
}
