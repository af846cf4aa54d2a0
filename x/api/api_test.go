package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssvlabs/chain-task-gateway/x/ops"
	"github.com/ssvlabs/chain-task-gateway/x/task"
	"github.com/ssvlabs/chain-task-gateway/x/worker"
)

const player = "0x00000000000000000000000000000000000000aa"

// stubTasks returns a fixed outcome and records what was submitted.
type stubTasks struct {
	outcome  *task.Outcome
	err      error
	taskName string
	payload  any
	waited   bool
	enqueued int
}

func (s *stubTasks) Enqueue(_ context.Context, taskName string, payload any) (string, error) {
	s.enqueued++
	s.taskName, s.payload = taskName, payload
	if s.err != nil {
		return "", s.err
	}
	return "1700000000000-0", nil
}

func (s *stubTasks) EnqueueAndWait(ctx context.Context, taskName string, payload any, _ task.WaitOptions) (*task.Outcome, error) {
	s.waited = true
	if _, err := s.Enqueue(ctx, taskName, payload); err != nil {
		return nil, err
	}
	return s.outcome, nil
}

type stubStatus struct {
	outcome *task.Outcome
	err     error
}

func (s *stubStatus) Resolve(_ context.Context, id string) (*task.Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.outcome
	out.MessageID = id
	return &out, nil
}

func newTestServer(t *testing.T, tasks Tasks, status task.StatusResolver) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{HomeChain: "home"}, tasks, status, zerolog.Nop(), NewMetrics(prometheus.NewRegistry()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestSubmit_OutcomeStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status task.Status
		code   int
	}{
		{"success", task.StatusSuccess, http.StatusOK},
		{"failed", task.StatusFailed, http.StatusInternalServerError},
		{"timeout", task.StatusTimeout, http.StatusGatewayTimeout},
		{"pending is a broken wait", task.StatusPending, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := &stubTasks{outcome: &task.Outcome{MessageID: "1-0", Status: tt.status, ErrorMessage: "boom"}}
			_, ts := newTestServer(t, tasks, nil)

			resp, body := post(t, ts.URL+"/chips/pay", `{"player":"`+player+`","amount":"10"}`)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, string(tt.status), body["status"])
			assert.Equal(t, "1-0", body["taskId"])
			assert.True(t, tasks.waited)
			assert.Equal(t, ops.TaskPayChips, tasks.taskName)
		})
	}
}

func TestSubmit_Routes(t *testing.T) {
	tests := []struct {
		path     string
		body     string
		taskName string
		payload  any
	}{
		{"/games/g-7/rooms", "", ops.TaskCreateRoom, ops.CreateRoomPayload{GameID: "g-7"}},
		{"/tokens", `{"to":"` + player + `","tokenURI":"ipfs://x"}`, ops.TaskMintToken,
			ops.MintTokenPayload{To: player, TokenURI: "ipfs://x"}},
		{"/chips/pay", `{"player":"` + player + `","amount":"5"}`, ops.TaskPayChips,
			ops.ChipsPayload{Player: player, Amount: "5"}},
		{"/chips/earn", `{"player":"` + player + `","amount":"5"}`, ops.TaskEarnChips,
			ops.ChipsPayload{Player: player, Amount: "5"}},
		{"/nfts/cross-chain", `{"destinationChain":"base","receiver":"` + player + `","tokenURI":"ipfs://y"}`,
			ops.TaskCreateCrossChainNFT,
			ops.CrossChainNFTPayload{SourceChain: "home", DestinationChain: "base", Receiver: player, TokenURI: "ipfs://y"}},
		{"/nfts/cross-chain", `{"sourceChain":"base","destinationChain":"home","receiver":"` + player + `","tokenURI":"ipfs://y"}`,
			ops.TaskCreateCrossChainNFT,
			ops.CrossChainNFTPayload{SourceChain: "base", DestinationChain: "home", Receiver: player, TokenURI: "ipfs://y"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			tasks := &stubTasks{outcome: &task.Outcome{MessageID: "1-0", Status: task.StatusSuccess}}
			_, ts := newTestServer(t, tasks, nil)

			resp, _ := post(t, ts.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.taskName, tasks.taskName)
			assert.Equal(t, tt.payload, tasks.payload)
		})
	}
}

func TestSubmit_Async(t *testing.T) {
	tasks := &stubTasks{}
	_, ts := newTestServer(t, tasks, nil)

	resp, body := post(t, ts.URL+"/tokens?async=true", `{"to":"`+player+`","tokenURI":"ipfs://x"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "1700000000000-0", body["taskId"])
	assert.Equal(t, string(task.StatusPending), body["status"])
	assert.False(t, tasks.waited)
	assert.Equal(t, 1, tasks.enqueued)
}

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"empty body", "/tokens", ""},
		{"malformed json", "/tokens", `{"to":`},
		{"unknown field", "/tokens", `{"to":"` + player + `","tokenURI":"u","extra":1}`},
		{"bad address", "/tokens", `{"to":"0x12","tokenURI":"u"}`},
		{"zero amount", "/chips/pay", `{"player":"` + player + `","amount":"0"}`},
		{"amount not a number", "/chips/earn", `{"player":"` + player + `","amount":"ten"}`},
		{"missing destination", "/nfts/cross-chain", `{"receiver":"` + player + `","tokenURI":"u"}`},
		{"same source and destination", "/nfts/cross-chain",
			`{"sourceChain":"base","destinationChain":"BASE","receiver":"` + player + `","tokenURI":"u"}`},
		{"destination is the home chain", "/nfts/cross-chain",
			`{"destinationChain":"Home","receiver":"` + player + `","tokenURI":"u"}`},
		{"bad async flag", "/chips/pay?async=maybe", `{"player":"` + player + `","amount":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := &stubTasks{}
			_, ts := newTestServer(t, tasks, nil)

			resp, body := post(t, ts.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
			assert.Zero(t, tasks.enqueued)
		})
	}
}

func TestSubmit_EnqueueFailure(t *testing.T) {
	for _, path := range []string{"/chips/pay", "/chips/pay?async=1"} {
		tasks := &stubTasks{err: errors.New("redis down")}
		_, ts := newTestServer(t, tasks, nil)

		resp, body := post(t, ts.URL+path, `{"player":"`+player+`","amount":"1"}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		assert.Contains(t, body["error"], "redis down", path)
	}
}

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		status task.Status
		code   int
	}{
		{task.StatusPending, http.StatusOK},
		{task.StatusSuccess, http.StatusOK},
		{task.StatusFailed, http.StatusOK},
		{task.StatusNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			_, ts := newTestServer(t, nil, &stubStatus{outcome: &task.Outcome{Status: tt.status}})

			resp, err := http.Get(ts.URL + "/tasks/42-0")
			require.NoError(t, err)
			defer resp.Body.Close()

			var out task.Outcome
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, "42-0", out.MessageID)
		})
	}
}

func TestTaskStatus_BackendError(t *testing.T) {
	_, ts := newTestServer(t, nil, &stubStatus{err: errors.New("mongo down")})

	resp, err := http.Get(ts.URL + "/tasks/42-0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRequestIDAndMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	srv := New(Config{}, nil, nil, zerolog.Nop(), m)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/tokens", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-1", resp.Header.Get(requestIDHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST /tokens", "400")))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, &stubTasks{}, nil)

	resp, err := http.Get(ts.URL + "/tokens")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestEndToEnd runs the API against the in-memory backends and a consumer.
func TestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := task.NewMemoryEventLog()
	records := task.NewMemoryRecordStore()
	resolver := task.NewResolver(records, events, nil)
	submitter := task.NewSubmitter(events, resolver,
		task.WaitOptions{MaxAttempts: 200, Interval: 10 * time.Millisecond}, zerolog.Nop(), nil)

	consumer := worker.NewConsumer(worker.Config{
		Consumer: "test",
		Workers:  2,
		Block:    10 * time.Millisecond,
	}, events, records, zerolog.Nop(), worker.NewMetrics(prometheus.NewRegistry()), nil)
	consumer.Handle(ops.TaskCreateRoom, func(_ context.Context, payload []byte) (*worker.Result, error) {
		var p ops.CreateRoomPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		if p.GameID == "broken" {
			return nil, errors.New("execution reverted")
		}
		return &worker.Result{Values: map[string]string{"roomId": "1", "gameId": p.GameID}, TxHash: "0xfeed"}, nil
	})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	_, ts := newTestServer(t, submitter, resolver)

	resp, body := post(t, ts.URL+"/games/g1/rooms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(task.StatusSuccess), body["status"])
	assert.Equal(t, "0xfeed", body["hash"])
	assert.Equal(t, map[string]any{"roomId": "1", "gameId": "g1"}, body["result"])
	assert.NotEmpty(t, body["completedAt"])

	resp, body = post(t, ts.URL+"/games/broken/rooms", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, string(task.StatusFailed), body["status"])
	assert.Contains(t, body["errorMessage"], "execution reverted")

	resp, body = post(t, ts.URL+"/games/g2/rooms?async=true", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["taskId"].(string)
	require.True(t, task.ValidMessageID(id))

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/tasks/" + id)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var out task.Outcome
		return json.NewDecoder(r.Body).Decode(&out) == nil && out.Status == task.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	r, err := http.Get(ts.URL + "/tasks/1-0")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
