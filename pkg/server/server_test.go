package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorthanc/autorthanc/pkg/rules"
	"github.com/autorthanc/autorthanc/pkg/server"
)

type fakeEngine struct {
	mu       sync.Mutex
	matched  []rules.Rule
	matchErr error
	runErr   error
	runs     []string
	forced   []bool
}

func (f *fakeEngine) MatchStudy(_ context.Context, id string) ([]rules.Rule, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return f.matched, nil
}

func (f *fakeEngine) RunStudy(_ context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, id)
	f.forced = append(f.forced, force)
	return f.runErr
}

func newTestServer(t *testing.T, engine *fakeEngine) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.New(":0", engine, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestTrigger_MatchedRules(t *testing.T) {
	engine := &fakeEngine{matched: []rules.Rule{
		{ID: "uro-export", Action: rules.ActionDownload},
		{ID: "pdf-forward", Action: rules.ActionForward, DestinationModality: "PACS2"},
	}}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/automation/study-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Matched 2 rule(s) for study study-1")
	assert.Contains(t, string(body), "uro-export")
	assert.Contains(t, string(body), "pdf-forward")

	// The forced run happened after the summary.
	require.Equal(t, []string{"study-1"}, engine.runs)
	assert.Equal(t, []bool{true}, engine.forced)
}

func TestTrigger_NoMatches(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/automation/study-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "No rules matched")
	assert.Empty(t, engine.runs)
}

func TestTrigger_SummaryReturnedEvenIfRunFails(t *testing.T) {
	engine := &fakeEngine{
		matched: []rules.Rule{{ID: "uro-export", Action: rules.ActionDownload}},
		runErr:  errors.New("export blew up"),
	}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/automation/study-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Matched 1 rule(s)")
	require.Len(t, engine.runs, 1)
}

func TestTrigger_MatchErrorIs500(t *testing.T) {
	engine := &fakeEngine{matchErr: errors.New("archive down")}
	srv := newTestServer(t, engine)

	resp, err := http.Get(srv.URL + "/automation/study-1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, engine.runs)
}

func TestTrigger_NonGetMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp, err := http.Post(srv.URL+"/automation/study-1", "text/plain", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}
