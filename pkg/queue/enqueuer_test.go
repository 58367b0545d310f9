package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/schedkit/pkg/queue"
)

// Mock store for enqueuer tests
type mockEnqueuerStore struct {
	mu         sync.Mutex
	jobs       []*queue.Job
	createFunc func(ctx context.Context, job *queue.Job) error
}

func (m *mockEnqueuerStore) CreateJob(ctx context.Context, job *queue.Job) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, job)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockEnqueuerStore) lastJob() *queue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) == 0 {
		return nil
	}
	return m.jobs[len(m.jobs)-1]
}

type sendInvoice struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

func TestEnqueuerEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("kind inferred from args type", func(t *testing.T) {
		t.Parallel()

		store := &mockEnqueuerStore{}
		enq, err := queue.NewEnqueuer(store)
		require.NoError(t, err)

		require.NoError(t, enq.Enqueue(context.Background(), sendInvoice{InvoiceID: uuid.New()}))

		job := store.lastJob()
		require.NotNil(t, job)
		assert.Equal(t, "queue_test.sendInvoice", job.Kind)
		assert.Equal(t, queue.DefaultQueueName, job.Queue)
		assert.Equal(t, queue.JobStateAvailable, job.State)
		assert.Equal(t, queue.PriorityDefault, job.Priority)
		assert.Equal(t, int8(3), job.MaxAttempts)
		assert.Nil(t, job.UniqueKey)
	})

	t.Run("explicit options", func(t *testing.T) {
		t.Parallel()

		store := &mockEnqueuerStore{}
		enq, err := queue.NewEnqueuer(store)
		require.NoError(t, err)

		scheduledAt := time.Now().Add(time.Hour)
		require.NoError(t, enq.Enqueue(context.Background(), sendInvoice{},
			queue.WithKind("billing.send_invoice"),
			queue.WithQueue("billing"),
			queue.WithPriority(queue.PriorityHigh),
			queue.WithMaxAttempts(5),
			queue.WithUniqueKey("invoice:42"),
			queue.WithScheduledAt(scheduledAt),
		))

		job := store.lastJob()
		require.NotNil(t, job)
		assert.Equal(t, "billing.send_invoice", job.Kind)
		assert.Equal(t, "billing", job.Queue)
		assert.Equal(t, queue.PriorityHigh, job.Priority)
		assert.Equal(t, int8(5), job.MaxAttempts)
		require.NotNil(t, job.UniqueKey)
		assert.Equal(t, "invoice:42", *job.UniqueKey)
		assert.WithinDuration(t, scheduledAt, job.ScheduledAt, time.Second)
	})

	t.Run("nil args rejected", func(t *testing.T) {
		t.Parallel()

		enq, err := queue.NewEnqueuer(&mockEnqueuerStore{})
		require.NoError(t, err)

		assert.ErrorIs(t, enq.Enqueue(context.Background(), nil), queue.ErrArgsNil)
	})

	t.Run("unknown kind rejected at enqueue time", func(t *testing.T) {
		t.Parallel()

		registry, err := queue.NewRegistry(
			queue.NewRawHandler("known", func(ctx context.Context) error { return nil }),
		)
		require.NoError(t, err)

		store := &mockEnqueuerStore{}
		enq, err := queue.NewEnqueuer(store, queue.WithRegistry(registry))
		require.NoError(t, err)

		err = enq.Enqueue(context.Background(), sendInvoice{}, queue.WithKind("unknown"))
		assert.ErrorIs(t, err, queue.ErrUnknownKind)
		assert.Nil(t, store.lastJob())

		assert.NoError(t, enq.Enqueue(context.Background(), sendInvoice{}, queue.WithKind("known")))
	})

	t.Run("duplicate unique key surfaces ErrDuplicateJob", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStorage()
		defer store.Close()

		enq, err := queue.NewEnqueuer(store)
		require.NoError(t, err)

		require.NoError(t, enq.Enqueue(context.Background(), sendInvoice{},
			queue.WithUniqueKey("invoice:7")))

		err = enq.Enqueue(context.Background(), sendInvoice{},
			queue.WithUniqueKey("invoice:7"))
		assert.ErrorIs(t, err, queue.ErrDuplicateJob)
	})
}
