package launcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/internal/monitor"
	"github.com/kiranshivaraju/ldawatch/internal/trainer"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStarter struct {
	calls int
	resp  *models.StartResponse
	err   error
}

func (m *mockStarter) StartTraining(_ context.Context, _ string) (*models.StartResponse, error) {
	m.calls++
	return m.resp, m.err
}

type mockMonitor struct {
	mu     sync.Mutex
	starts int
}

func (m *mockMonitor) Start(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return true
}

type mockLocker struct {
	ok  bool
	err error
	ttl time.Duration
}

func (m *mockLocker) AcquireLaunch(_ context.Context, _ string, ttl time.Duration) (bool, error) {
	m.ttl = ttl
	return m.ok, m.err
}

type mockRecorder struct {
	runs []*models.Run
	err  error
}

func (m *mockRecorder) CreateRun(_ context.Context, run *models.Run) error {
	m.runs = append(m.runs, run)
	return m.err
}

// --- tests ---

func TestStartTraining_StartedHandsOffOnce(t *testing.T) {
	s := &mockStarter{resp: &models.StartResponse{Status: "started"}}
	m := &mockMonitor{}
	l := New(s, m, "topic-model-42", Options{})

	res := l.StartTraining(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Monitoring)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.Equal(t, 1, m.starts)

	res = l.StartTraining(context.Background())
	require.NoError(t, res.Err)
	assert.False(t, res.Monitoring)
	assert.Equal(t, 2, s.calls, "each call still issues a start request")
	assert.Equal(t, 1, m.starts, "monitor must start at most once")
}

func TestStartTraining_OtherStatusesDoNotMonitor(t *testing.T) {
	for _, status := range []string{"queued", "ongoing", "error", "", "STARTED"} {
		t.Run(status, func(t *testing.T) {
			m := &mockMonitor{}
			l := New(&mockStarter{resp: &models.StartResponse{Status: status}}, m, "job", Options{})

			res := l.StartTraining(context.Background())
			assert.NoError(t, res.Err)
			assert.False(t, res.Monitoring)
			assert.Equal(t, 0, m.starts)
			assert.Equal(t, status, res.Response.Status)
		})
	}
}

func TestStartTraining_TransportFailureIsReturned(t *testing.T) {
	m := &mockMonitor{}
	l := New(&mockStarter{err: trainer.ErrServiceUnreachable}, m, "job", Options{})

	res := l.StartTraining(context.Background())
	assert.True(t, errors.Is(res.Err, trainer.ErrServiceUnreachable))
	assert.Nil(t, res.Response)
	assert.Equal(t, 0, m.starts)
}

func TestStartTraining_LockHeldElsewhere(t *testing.T) {
	m := &mockMonitor{}
	lk := &mockLocker{ok: false}
	l := New(&mockStarter{resp: &models.StartResponse{Status: "started"}}, m, "job",
		Options{Locker: lk, LockTTL: 4 * time.Second})

	res := l.StartTraining(context.Background())
	assert.ErrorIs(t, res.Err, ErrLaunchLocked)
	assert.Equal(t, 0, m.starts)
	assert.Equal(t, 4*time.Second, lk.ttl)
}

func TestStartTraining_LockErrorFailsOpen(t *testing.T) {
	m := &mockMonitor{}
	lk := &mockLocker{err: errors.New("redis down")}
	l := New(&mockStarter{resp: &models.StartResponse{Status: "started"}}, m, "job", Options{Locker: lk})

	res := l.StartTraining(context.Background())
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, m.starts)
}

func TestStartTraining_RecordsRun(t *testing.T) {
	rec := &mockRecorder{}
	l := New(&mockStarter{resp: &models.StartResponse{Status: "started"}}, &mockMonitor{}, "job",
		Options{Recorder: rec})

	res := l.StartTraining(context.Background())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, res.RunID, rec.runs[0].ID)
	assert.Equal(t, "job", rec.runs[0].JobID)
	assert.Equal(t, models.RunStatusRunning, rec.runs[0].Status)
}

func TestStartTraining_RecorderFailureStillMonitors(t *testing.T) {
	m := &mockMonitor{}
	rec := &mockRecorder{err: errors.New("db down")}
	l := New(&mockStarter{resp: &models.StartResponse{Status: "started"}}, m, "job", Options{Recorder: rec})

	res := l.StartTraining(context.Background())
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, m.starts)
}

// --- end to end over HTTP ---

type recordedRequest struct {
	method string
	path   string
	at     time.Time
}

func fakeService(t *testing.T, startBody string, startCode int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.Path, at: time.Now()})
		mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/lda/topic-model-42":
			w.WriteHeader(startCode)
			w.Write([]byte(startBody))
		case r.Method == http.MethodGet && r.URL.Path == "/progress/topic-model-42":
			w.Write([]byte(`{"percent":5,"description":"training","app_name":"topic-model-42"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)

	return ts, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedRequest, len(reqs))
		copy(out, reqs)
		return out
	}
}

func TestEndToEnd_StartedThenPolls(t *testing.T) {
	const interval = 100 * time.Millisecond
	ts, requests := fakeService(t, `{"status":"started"}`, http.StatusOK)

	client := trainer.NewHTTPClient(ts.URL, time.Second)
	p := monitor.NewPoller(client, "topic-model-42", monitor.Options{Interval: interval, StopOnTerminal: true})
	l := New(client, p, "topic-model-42", Options{})

	res := l.StartTraining(context.Background())
	ackAt := time.Now()
	require.NoError(t, res.Err)
	require.True(t, res.Monitoring)

	require.Eventually(t, func() bool { return len(requests()) >= 3 }, 2*time.Second, 10*time.Millisecond)
	p.Stop()
	p.Wait()

	reqs := requests()
	assert.Equal(t, http.MethodPost, reqs[0].method, "start request must come first")
	assert.Equal(t, "/lda/topic-model-42", reqs[0].path)
	for _, r := range reqs[1:] {
		assert.Equal(t, http.MethodGet, r.method)
		assert.Equal(t, "/progress/topic-model-42", r.path)
	}
	assert.GreaterOrEqual(t, reqs[1].at.Sub(ackAt), interval-5*time.Millisecond)
}

func TestEndToEnd_QueuedNeverPolls(t *testing.T) {
	ts, requests := fakeService(t, `{"status":"queued"}`, http.StatusOK)

	client := trainer.NewHTTPClient(ts.URL, time.Second)
	p := monitor.NewPoller(client, "topic-model-42", monitor.Options{Interval: 10 * time.Millisecond})
	l := New(client, p, "topic-model-42", Options{})

	res := l.StartTraining(context.Background())
	require.NoError(t, res.Err)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, requests(), 1)
	assert.Equal(t, monitor.StateIdle, p.State())
}

func TestEndToEnd_MalformedStartNeverPolls(t *testing.T) {
	ts, requests := fakeService(t, `{"status":`, http.StatusOK)

	client := trainer.NewHTTPClient(ts.URL, time.Second)
	p := monitor.NewPoller(client, "topic-model-42", monitor.Options{Interval: 10 * time.Millisecond})
	l := New(client, p, "topic-model-42", Options{})

	res := l.StartTraining(context.Background())
	assert.ErrorIs(t, res.Err, trainer.ErrInvalidResponse)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, requests(), 1)
}

func TestEndToEnd_NetworkErrorNeverPolls(t *testing.T) {
	client := trainer.NewHTTPClient("http://127.0.0.1:1", time.Second)
	p := monitor.NewPoller(client, "topic-model-42", monitor.Options{Interval: 10 * time.Millisecond})
	l := New(client, p, "topic-model-42", Options{})

	var res Result
	assert.NotPanics(t, func() { res = l.StartTraining(context.Background()) })
	assert.ErrorIs(t, res.Err, trainer.ErrServiceUnreachable)
	assert.Equal(t, monitor.StateIdle, p.State())
}
