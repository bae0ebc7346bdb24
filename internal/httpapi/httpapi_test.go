package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/governance"
	"matchguard/internal/httpapi"
	"matchguard/internal/identity"
	"matchguard/internal/matchauthority"
	"matchguard/internal/slashing"
	"matchguard/internal/store"
	"matchguard/internal/store/memstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *identity.StaticOracle) {
	t.Helper()
	st := memstore.New()
	gw := chain.NewFakeGateway()

	matchSvc := matchauthority.New(st, gw, events.NoopPublisher{}, matchauthority.NoopSettlement{}, 5*time.Minute)
	govCore := governance.New(st, gw, events.NoopPublisher{}, 5, time.Hour)
	escrow := slashing.ChainEscrow{Gateway: gw, ContractID: "escrow_contract"}
	slashCore := slashing.New(st, escrow, events.NoopPublisher{})

	oracle := identity.NewStaticOracle()
	oracle.Callers["test-token"] = identity.Caller{Subject: "tester", Role: identity.RolePlayer}
	srv :=httpapi.New(matchSvc, govCore, slashCore, oracle, nil)
	return httptest.NewServer(srv.Handler()), oracle
}

func doJSON(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateAndGetMatch(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/matches/", map[string]any{
		"player_a": "alice", "player_b": "bob", "idempotency_key": "key-1",
	}, "test-token")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	match := created["match"].(map[string]any)
	matchID := match["ID"].(string)
	require.NotEmpty(t, matchID)

	resp2 := doJSON(t, http.MethodGet, srv.URL+"/api/matches/"+matchID, nil, "test-token")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()
}

func TestCreateMatchMissingPlayerReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/matches/", map[string]any{
		"player_a": "", "player_b": "bob", "idempotency_key": "key-2",
	}, "test-token")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, "InvalidInput", body["code"])
}

func TestUnknownBearerTokenReturnsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/governance/proposals", map[string]any{
		"target_contract": "x", "function_name": "y",
	}, "not-a-real-token")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestIdempotencyKeyHeaderFallback(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/matches/", bytes.NewReader([]byte(`{"player_a":"a","player_b":"b"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "header-key")
	req.Header.Set("Authorization", "test-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	req2, err := http.NewRequest(http.MethodPost, srv.URL+"/api/matches/", bytes.NewReader([]byte(`{"player_a":"a","player_b":"b"}`)))
	require.NoError(t, err)
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Idempotency-Key", "header-key")
	req2.Header.Set("Authorization", "test-token")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	resp2.Body.Close()
}
