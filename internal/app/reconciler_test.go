//go:build unit

package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/gateway"
	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/ohttp"
	"github.com/muratdemir0/gopulse-dispatch/internal/app"
	"github.com/muratdemir0/gopulse-dispatch/internal/domain"
)

type reconcilerFixture struct {
	now        time.Time
	jobs       *memJobs
	logs       *memLogs
	gateway    *fakeGateway
	reconciler *app.Reconciler
}

func newReconcilerFixture(t *testing.T, static *app.GatewaySettings, jobs ...domain.Job) *reconcilerFixture {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	gw := newFakeGateway(t)
	settings := gw.credentials()
	if static != nil {
		settings = *static
	}
	settings.WebhookSecret = "hook-secret"

	f := &reconcilerFixture{now: now, jobs: newJobs(jobs...), logs: &memLogs{}, gateway: gw}
	f.reconciler = app.NewReconciler(
		f.jobs,
		f.logs,
		app.NewCredentialResolver(&memSettings{}, settings),
		gateway.NewClient(ohttp.NewClient()),
		100,
		discardLogger(),
		app.WithClock(fixedClock(now)),
	)
	return f
}

func sentJob(id, messageID string) domain.Job {
	return domain.Job{
		ID:               id,
		RecipientPhone:   "5511999990001",
		Status:           domain.JobStatusSent,
		RequiresAck:      true,
		GatewayMessageID: nullString(messageID),
	}
}

func TestReconciler_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("Given gateway statuses, when polling, then delivery and read confirmations are applied once", func(t *testing.T) {
		f := newReconcilerFixture(t, nil,
			sentJob("job-delivered", "w1"),
			sentJob("job-read", "w2"),
			sentJob("job-failed", "w3"),
			sentJob("job-unknown", "w4"),
		)
		f.gateway.statuses["w1"] = `{"status":"DELIVERED"}`
		f.gateway.statuses["w2"] = `{"status":"read","delivered":true}`
		f.gateway.statuses["w3"] = `{"status":"failed","error":"blocked"}`

		result, err := f.reconciler.Poll(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, app.PollResult{Checked: 3, Delivered: 2, Acked: 1}, result)

		assert.Equal(t, domain.JobStatusDelivered, f.jobs.get("job-delivered").Status)
		assert.False(t, f.jobs.get("job-delivered").AckReceived)

		read := f.jobs.get("job-read")
		assert.Equal(t, domain.JobStatusDelivered, read.Status)
		assert.True(t, read.AckReceived)
		assert.Equal(t, f.now, read.AckReceivedAt.Time)

		assert.Equal(t, domain.JobStatusSent, f.jobs.get("job-failed").Status)
		assert.Equal(t, domain.JobStatusSent, f.jobs.get("job-unknown").Status)

		assert.Equal(t, []string{domain.LogActionDelivered, domain.LogActionAck}, f.logs.actions("job-read"))
		entries, _ := f.logs.ListByJob(ctx, "job-read")
		assert.JSONEq(t, `{}`, string(entries[0].Payload))

		again, err := f.reconciler.Poll(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, app.PollResult{Checked: 2}, again)
		assert.Len(t, f.logs.actions("job-read"), 2)
	})

	t.Run("Given no credentials, when polling, then nothing is checked", func(t *testing.T) {
		f := newReconcilerFixture(t, &app.GatewaySettings{}, sentJob("job-1", "w1"))

		result, err := f.reconciler.Poll(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, app.PollResult{}, result)
	})
}

func TestReconciler_HandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a read callback, when handled, then the job is delivered and acknowledged with the body logged", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, sentJob("job-1", "w1"))
		body := map[string]any{"messageId": "w1", "status": "read", "delivered": true}

		require.NoError(t, f.reconciler.HandleCallback(ctx, body))

		job := f.jobs.get("job-1")
		assert.Equal(t, domain.JobStatusDelivered, job.Status)
		assert.True(t, job.AckReceived)

		entries, _ := f.logs.ListByJob(ctx, "job-1")
		require.Len(t, entries, 2)
		assert.JSONEq(t, `{"messageId":"w1","status":"read","delivered":true}`, string(entries[1].Payload))
	})

	t.Run("Given a repeated callback, when handled, then no extra log is written", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, sentJob("job-1", "w1"))
		body := map[string]any{"id": "w1", "event": "ack"}

		require.NoError(t, f.reconciler.HandleCallback(ctx, body))
		require.NoError(t, f.reconciler.HandleCallback(ctx, body))

		assert.Equal(t, []string{domain.LogActionAck}, f.logs.actions("job-1"))
	})

	t.Run("Given a failure callback, when handled, then the job is failed with the gateway detail", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, sentJob("job-1", "w1"))

		require.NoError(t, f.reconciler.HandleCallback(ctx, map[string]any{
			"data":   map[string]any{"id": "w1"},
			"status": "failed",
			"detail": "number not on whatsapp",
		}))

		job := f.jobs.get("job-1")
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, "number not on whatsapp", job.LastError.String)
		assert.Equal(t, []string{domain.LogActionError}, f.logs.actions("job-1"))
	})

	t.Run("Given a callback without a message id, when handled, then it is rejected", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)
		assert.ErrorIs(t, f.reconciler.HandleCallback(ctx, map[string]any{"status": "read"}), domain.ErrMissingMessageID)
	})

	t.Run("Given an unknown message id, when handled, then job not found is returned", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, sentJob("job-1", "w1"))
		err := f.reconciler.HandleCallback(ctx, map[string]any{"id": "nope"})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Given the configured secret, when authenticating, then it is accepted", func(t *testing.T) {
		f := newReconcilerFixture(t, nil)

		ok, err := f.reconciler.Authenticate(ctx, "hook-secret")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.reconciler.Authenticate(ctx, "wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
