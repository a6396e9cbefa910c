package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

func TestJoinEndpoint(t *testing.T) {
	store := memory.NewStore()
	store.SeedGame(domain.Game{ID: "g1", GameCode: "DEMO01", Status: domain.GameStatusPending, CreatedAt: time.Now()}, nil)
	service := app.NewGameService(store)
	server := newTestServer(service, store)
	defer server.Close()

	resp, err := http.Post(server.URL+"/games/join?userId=u1", "application/json",
		strings.NewReader(`{"gameCode":"demo01","displayName":"Alice"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var joined struct {
		Game        domain.Game        `json:"game"`
		Participant domain.Participant `json:"participant"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if joined.Game.ID != "g1" || joined.Participant.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected join response %+v", joined)
	}

	// Unknown codes map to 404, missing identity to 401.
	resp, err = http.Post(server.URL+"/games/join?userId=u1", "application/json",
		strings.NewReader(`{"gameCode":"NOSUCH"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/games/join", "application/json",
		strings.NewReader(`{"gameCode":"DEMO01"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStartWaitingAndResultsEndpoints(t *testing.T) {
	store := memory.NewStore()
	store.SeedGame(domain.Game{ID: "g1", GameCode: "DEMO01", Status: domain.GameStatusPending, CreatedAt: time.Now()}, nil)
	service := app.NewGameService(store)
	server := newTestServer(service, store)
	defer server.Close()

	resp, err := http.Post(server.URL+"/games/join?userId=u1", "application/json",
		strings.NewReader(`{"gameCode":"DEMO01","displayName":"Alice"}`))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/games/g1/waiting")
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	var waiting struct {
		Roster []domain.Participant `json:"roster"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&waiting); err != nil {
		t.Fatalf("decode waiting: %v", err)
	}
	resp.Body.Close()
	if len(waiting.Roster) != 1 || waiting.Roster[0].DisplayName != "Alice" {
		t.Fatalf("unexpected roster %+v", waiting.Roster)
	}

	resp, err = http.Post(server.URL+"/games/g1/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var started domain.Game
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	resp.Body.Close()
	if !started.IsStarted || started.Status != domain.GameStatusActive {
		t.Fatalf("expected started game, got %+v", started)
	}

	resp, err = http.Get(server.URL + "/games/g1/results")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 results, got %d", resp.StatusCode)
	}
}

func TestLeaveEndpoint(t *testing.T) {
	store := memory.NewStore()
	store.SeedGame(domain.Game{ID: "g1", GameCode: "DEMO01", Status: domain.GameStatusPending, CreatedAt: time.Now()}, nil)
	service := app.NewGameService(store)
	server := newTestServer(service, store)
	defer server.Close()

	resp, err := http.Post(server.URL+"/games/join?userId=u1", "application/json",
		strings.NewReader(`{"gameCode":"DEMO01","displayName":"Alice"}`))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/games/g1/leave?userId=u1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// The cursor is gone, leaving again is a 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("leave again: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	store := memory.NewStore()
	store.SeedVote(domain.Vote{ID: "v1", Title: "Finals", TeamNames: []string{"Red", "Blue"}}, nil)
	service := app.NewGameService(store)

	tokenAuth := jwtauth.New("HS256", []byte("test-secret"), nil)
	ws := NewWSHandler(service, nil)
	rest := NewRestHandler(service, app.NewVoteService(store))
	server := httptest.NewServer(NewRouter(ws, rest, tokenAuth))
	defer server.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// No token at all: the authenticator rejects the request.
	resp, err := client.Get(server.URL + "/admin/votes")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// A valid token without the admin role is redirected away.
	_, playerToken, err := tokenAuth.Encode(map[string]interface{}{"sub": "u1"})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/admin/votes", nil)
	req.Header.Set("Authorization", "BEARER "+playerToken)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/dashboard" {
		t.Fatalf("expected redirect to /dashboard, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	// Host start is admin surface too.
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/games/g1/start", nil)
	req.Header.Set("Authorization", "BEARER "+playerToken)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("post start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected non-admin start to redirect, got %d", resp.StatusCode)
	}

	// The admin role unlocks the tally.
	_, adminToken, err := tokenAuth.Encode(map[string]interface{}{"sub": "host", "role": "admin"})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, server.URL+"/admin/votes", nil)
	req.Header.Set("Authorization", "BEARER "+adminToken)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", resp.StatusCode)
	}
	var votes []domain.Vote
	if err := json.NewDecoder(resp.Body).Decode(&votes); err != nil {
		t.Fatalf("decode votes: %v", err)
	}
	if len(votes) != 1 || votes[0].ID != "v1" {
		t.Fatalf("unexpected votes %+v", votes)
	}
}
