package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/model"
	"driveguard/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
	Next    *time.Time
}

type failRec struct {
	ID      string
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError, Next: nextAttemptAt})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerDeliversSignedPayload(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3, nil)
	w.HTTP = srv.Client()
	_, err := rs.Memory.EnqueueWebhook(context.Background(), "org1", "", model.EventAnalysisCompleted, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)

	w.processOnce(context.Background())

	assert.Equal(t, model.EventAnalysisCompleted, gotType)
	assert.True(t, VerifyHMAC("secret", gotBody, gotSig))
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)

	items, _, err := rs.ListWebhookDeliveries(context.Background(), "org1", store.DeliveryDelivered, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2, nil)
	w.HTTP = srv.Client()
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "org1", "", model.EventAnalysisFailed, srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, "unexpected status 500", rs.marks[0].LastErr)
	require.NotNil(t, rs.marks[0].Next)

	// make the retry due now
	past := time.Now().Add(-time.Second)
	require.NoError(t, rs.Memory.MarkWebhookDelivery(context.Background(), id, false, &past, "", 500, 0))
	rs.marks = nil

	w.processOnce(context.Background())
	assert.Empty(t, rs.marks)
	require.Len(t, rs.fails, 1)
	assert.Equal(t, 500, rs.fails[0].Code)
}

func TestPublisherEmitsPerSubscription(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.CreateSubscription(ctx, model.SubscriptionRequest{OrganizationID: "org1", URL: "http://a.example/hook", Events: []string{model.EventAnalysisCompleted}})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, model.SubscriptionRequest{OrganizationID: "org1", URL: "http://b.example/hook", Events: []string{model.EventAnalysisFailed}})
	require.NoError(t, err)

	p := NewPublisher(s, nil)
	n, err := p.Emit(ctx, "org1", model.EventAnalysisCompleted, map[string]any{"video_id": "v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := s.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "http://a.example/hook", due[0].URL)
	var payload Payload
	require.NoError(t, json.Unmarshal(due[0].Payload, &payload))
	assert.Equal(t, model.EventAnalysisCompleted, payload.Type)
	assert.Equal(t, "org1", payload.OrganizationID)

	n, err = p.Emit(ctx, "", model.EventAnalysisCompleted, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, time.Hour, nextBackoff(40))
}
