package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/roundsync/internal/api"
	"github.com/mcoot/roundsync/internal/api/apierr"
	"github.com/mcoot/roundsync/internal/api/response"
	"github.com/mcoot/roundsync/internal/client/reducer"
	"github.com/mcoot/roundsync/internal/client/subscription"
	"github.com/mcoot/roundsync/internal/client/wsdial"
	"github.com/mcoot/roundsync/internal/dependencies/random"
	"github.com/mcoot/roundsync/internal/factory"
	"github.com/mcoot/roundsync/internal/middleware"
	"github.com/mcoot/roundsync/internal/model"
	"github.com/mcoot/roundsync/internal/testutil"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	app := factory.NewTestApp()
	router := api.NewRouter(api.RouterConfig{
		Logger:   testutil.NopLogger(),
		Rounds:   app.RoundService,
		Sessions: app.AuthService,
		Registry: app.Realtime,
		Gatherer: app.Registry,
	})
	t.Cleanup(app.Realtime.CloseAll)

	return &testServer{handler: router, app: app}
}

func (ts *testServer) request(method, path string, body any, session model.SessionID) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+string(session))
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createRound(t *testing.T, code string, par []int) model.Snapshot {
	t.Helper()
	ts.app.MockRandom.QueueString(code)

	rr := ts.request(http.MethodPost, "/api/v1/rounds", map[string]any{"courseName": "Pebble Creek", "par": par}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	return snap
}

func (ts *testServer) join(t *testing.T, code, name string) response.JoinResponse {
	t.Helper()

	rr := ts.request(http.MethodPost, "/api/v1/rounds/join", map[string]any{"accessCode": code, "playerName": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorKind {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createRound(t, "MET234", []int{4})

	rr := ts.request(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "roundsync_mutations_total")
}

func TestCreateRound(t *testing.T) {
	ts := newTestServer(t)

	snap := ts.createRound(t, "ABC234", []int{4, 4, 4})

	assert.Equal(t, 3, snap.Config.Holes)
	assert.Equal(t, model.AccessCode("ABC234"), snap.Config.AccessCode)
	assert.Equal(t, 1, snap.State.CurrentHole)
	assert.Equal(t, int64(1), snap.State.StateVersion)
	require.NotNil(t, snap.State.Status)
	assert.Equal(t, model.StatusInProgress, *snap.State.Status)
}

func TestCreateRoundRejectsEmptyPar(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/rounds", map[string]any{"courseName": "C", "par": []int{}}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, model.KindInvalidInput, errorCode(t, rr))
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJoinRound(t *testing.T) {
	ts := newTestServer(t)
	ts.createRound(t, "JON234", []int{4, 4, 4})

	resp := ts.join(t, "jon234", "Alice")

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Alice", resp.Player.Name)
	assert.Equal(t, model.DefaultPlayerColor, resp.Player.Color)
	require.Len(t, resp.Snapshot.Players, 1)
	assert.Equal(t, "Alice", resp.Snapshot.Players[0].Name)
}

func TestJoinUnknownCode(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/rounds/join", map[string]any{"accessCode": "NOPE23", "playerName": "A"}, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, model.KindNotFound, errorCode(t, rr))
}

func TestErrorCarriesRequestID(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/rounds/join", map[string]any{"accessCode": "NOPE23", "playerName": "A"}, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error.RequestID)
	assert.Equal(t, rr.Header().Get(middleware.RequestIDHeader), resp.Error.RequestID)
}

func TestSessionRequired(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "SES234", []int{4})

	rr := ts.request(http.MethodGet, "/api/v1/rounds/"+string(snap.Config.RoundID), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/rounds/"+string(snap.Config.RoundID), nil, "sess_forged")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, model.KindUnauthorized, errorCode(t, rr))
}

func TestForeignSessionRejected(t *testing.T) {
	ts := newTestServer(t)
	first := ts.createRound(t, "ONE234", []int{4})
	ts.createRound(t, "TWO234", []int{4})
	outsider := ts.join(t, "TWO234", "Mallory")

	rr := ts.request(http.MethodPut, "/api/v1/rounds/"+string(first.Config.RoundID)+"/scores",
		map[string]any{"playerId": outsider.Player.PlayerID, "holeNumber": 1, "strokes": 3}, outsider.SessionID)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUpdateScoreOutOfRange(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "SCR234", []int{4, 4, 4})
	alice := ts.join(t, "SCR234", "Alice")

	rr := ts.request(http.MethodPut, "/api/v1/rounds/"+string(snap.Config.RoundID)+"/scores",
		map[string]any{"playerId": alice.Player.PlayerID, "holeNumber": 4, "strokes": 3}, alice.SessionID)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, model.KindInvalidInput, errorCode(t, rr))

	rr = ts.request(http.MethodPut, "/api/v1/rounds/"+string(snap.Config.RoundID)+"/scores",
		map[string]any{"playerId": alice.Player.PlayerID, "holeNumber": 3, "strokes": 5}, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code)

	var score model.Score
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &score))
	assert.Equal(t, alice.Player.PlayerID, score.UpdatedBy)
}

func TestPatchStateConflict(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "CON234", []int{4, 4})
	alice := ts.join(t, "CON234", "Alice")
	path := "/api/v1/rounds/" + string(snap.Config.RoundID) + "/state"

	body := map[string]any{"status": "completed", "expectedVersion": 1}
	rr := ts.request(http.MethodPatch, path, body, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var state model.RoundState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, int64(2), state.StateVersion)

	rr = ts.request(http.MethodPatch, path, body, alice.SessionID)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, model.KindConflict, errorCode(t, rr))
}

func TestPatchStateExplicitNullClearsStatus(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "NUL234", []int{4, 4})
	alice := ts.join(t, "NUL234", "Alice")

	rr := ts.request(http.MethodPatch, "/api/v1/rounds/"+string(snap.Config.RoundID)+"/state",
		map[string]any{"status": nil}, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var state model.RoundState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Nil(t, state.Status)
	assert.Equal(t, 1, state.CurrentHole)
}

func TestPatchStateUnknownStatus(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "BAD234", []int{4})
	alice := ts.join(t, "BAD234", "Alice")

	rr := ts.request(http.MethodPatch, "/api/v1/rounds/"+string(snap.Config.RoundID)+"/state",
		map[string]any{"status": "paused"}, alice.SessionID)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdatePlayer(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "PLY234", []int{4})
	alice := ts.join(t, "PLY234", "Alice")
	base := "/api/v1/rounds/" + string(snap.Config.RoundID) + "/players/"

	rr := ts.request(http.MethodPatch, base+string(alice.Player.PlayerID), map[string]any{"color": "#FF0000"}, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code)

	var player model.Player
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &player))
	assert.Equal(t, "Alice", player.Name)
	assert.Equal(t, "#FF0000", player.Color)

	rr = ts.request(http.MethodPatch, base+"nobody", map[string]any{"name": "X"}, alice.SessionID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubscribeRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.createRound(t, "UPG234", []int{4})

	rr := ts.request(http.MethodGet, "/api/v1/rounds/"+string(snap.Config.RoundID)+"/subscribe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// TestLiveSync runs the whole path over real sockets: a mutation by one
// player reaches another player's subscription and reducer.
func TestLiveSync(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- ts.app.Consumer.Run(ctx) }()

	snap := ts.createRound(t, "SYN234", []int{4, 3, 5})
	alice := ts.join(t, "SYN234", "Alice")
	bob := ts.join(t, "SYN234", "Bob")
	roundPath := "/api/v1/rounds/" + string(snap.Config.RoundID)

	// Alice watches the round
	store := reducer.NewStore(*alice.Snapshot)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + roundPath + "/subscribe"
	sub := subscription.New(
		subscription.DefaultConfig(wsURL, alice.SessionID),
		wsdial.New(wsdial.DefaultConfig(), nil, testutil.NopLogger()),
		clockwork.NewRealClock(),
		random.New(),
		subscription.AlwaysOnline{},
		testutil.NopLogger(),
	)
	sub.OnEvent(store.ApplyAuthoritative)
	sub.Start()
	defer sub.Close()

	require.Eventually(t, func() bool {
		return sub.Status() == subscription.StatusOpen && ts.app.Realtime.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Bob joined before the subscription opened, so start from a fresh read
	rr := ts.request(http.MethodGet, roundPath, nil, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code)
	var initial model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &initial))
	store.Replace(initial)

	// Bob scores for Alice and moves the round on
	rr = ts.request(http.MethodPut, roundPath+"/scores",
		map[string]any{"playerId": alice.Player.PlayerID, "holeNumber": 1, "strokes": 4}, bob.SessionID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.request(http.MethodPatch, roundPath+"/state", map[string]any{"currentHole": 2}, bob.SessionID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		local := store.Snapshot()
		score := local.GetScore(alice.Player.PlayerID, 1)
		return score != nil && score.Strokes == 4 &&
			local.State.CurrentHole == 2 && local.State.StateVersion == 2 &&
			len(local.Players) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The local view matches the server's
	rr = ts.request(http.MethodGet, roundPath, nil, alice.SessionID)
	require.Equal(t, http.StatusOK, rr.Code)
	var server model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &server))
	local := store.Snapshot()
	assert.Equal(t, server.State.StateVersion, local.State.StateVersion)
	assert.Len(t, local.Scores, len(server.Scores))

	cancel()
	require.NoError(t, <-consumerDone)
}

// TestSubscribeWithBadSessionIsFatal checks that a rejected subscriber
// closes for good instead of retrying.
func TestSubscribeWithBadSessionIsFatal(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()
	snap := ts.createRound(t, "FAT234", []int{4})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rounds/" + string(snap.Config.RoundID) + "/subscribe"
	sub := subscription.New(
		subscription.DefaultConfig(wsURL, "sess_forged"),
		wsdial.New(wsdial.DefaultConfig(), nil, testutil.NopLogger()),
		clockwork.NewRealClock(),
		random.New(),
		nil,
		testutil.NopLogger(),
	)
	sub.Start()
	defer sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
	assert.Equal(t, subscription.StatusClosed, sub.Status())
	assert.Equal(t, 0, ts.app.Realtime.Count())
}
