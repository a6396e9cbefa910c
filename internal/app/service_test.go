package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

func TestJoinByCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, false)
	service := app.NewGameService(store)

	// Codes are matched case-insensitively and trimmed.
	game, participant, err := service.Join(ctx, " demo01 ", "u1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if game.ID != "g1" {
		t.Fatalf("expected game g1, got %q", game.ID)
	}
	if participant.CurrentQuestionIndex != 0 || participant.IsCompleted {
		t.Fatalf("expected fresh cursor at 0, got %+v", participant)
	}

	// Re-joining returns the existing cursor unchanged.
	_, again, err := service.Join(ctx, "DEMO01", "u1", "Alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != participant.ID {
		t.Fatalf("rejoin created a new cursor: %q vs %q", again.ID, participant.ID)
	}

	if _, _, err := service.Join(ctx, "NOSUCH", "u1", "Alice"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestJoinRejectsTerminalGame(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedGame(domain.Game{ID: "g2", GameCode: "DONE01", Status: domain.GameStatusCompleted}, nil)
	service := app.NewGameService(store)

	if _, _, err := service.Join(ctx, "DONE01", "u1", "Alice"); !errors.Is(err, domain.ErrGameNotJoinable) {
		t.Fatalf("expected ErrGameNotJoinable, got %v", err)
	}
}

func TestJoinRejectsFinishedParticipant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, true)
	seedParticipant(store, "p1", "u1", 2, 150, true)
	service := app.NewGameService(store)

	if _, _, err := service.Join(ctx, "DEMO01", "u1", "Alice"); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestJoinRejectsFullGame(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedGame(domain.Game{ID: "g3", GameCode: "FULL01", Status: domain.GameStatusPending, MaxParticipants: 1}, nil)
	service := app.NewGameService(store)

	if _, _, err := service.Join(ctx, "FULL01", "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, _, err := service.Join(ctx, "FULL01", "u2", "Bob"); !errors.Is(err, domain.ErrGameFull) {
		t.Fatalf("expected ErrGameFull, got %v", err)
	}
	// The member who made it full can still re-enter.
	if _, _, err := service.Join(ctx, "FULL01", "u1", "Alice"); err != nil {
		t.Fatalf("rejoin full game: %v", err)
	}
}

func TestActiveGameProbe(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, false)
	service := app.NewGameService(store)

	game, participant, err := service.ActiveGame(ctx, "u1")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if game != nil || participant != nil {
		t.Fatalf("expected no active game before join, got %+v / %+v", game, participant)
	}

	if _, _, err := service.Join(ctx, "DEMO01", "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	game, participant, err = service.ActiveGame(ctx, "u1")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if game == nil || game.ID != "g1" || participant == nil {
		t.Fatalf("expected active game g1, got %+v / %+v", game, participant)
	}
}

func TestLeaveDeletesCursor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, true)
	service := app.NewGameService(store)

	_, first, err := service.Join(ctx, "DEMO01", "u1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := service.Leave(ctx, "g1", "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := store.GetParticipant(ctx, "g1", "u1"); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected cursor gone, got %v", err)
	}

	// Rejoining after leave starts over with a fresh cursor.
	_, second, err := service.Join(ctx, "DEMO01", "u1", "Alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if second.ID == first.ID || second.CurrentQuestionIndex != 0 || second.TotalPointsEarned != 0 {
		t.Fatalf("expected a fresh cursor after leave, got %+v", second)
	}
}

func TestStartReachesSubscribers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, false)
	service := app.NewGameService(store)

	ch, cancel, err := service.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	game, err := service.Start(ctx, "g1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !game.IsStarted || game.Status != domain.GameStatusActive {
		t.Fatalf("expected started game, got %+v", game)
	}

	ev := nextChange(t, ch)
	if ev.Table != domain.TableGames || ev.Game == nil || !ev.Game.IsStarted {
		t.Fatalf("expected started game event, got %+v", ev)
	}
}

func TestResultsOrdering(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTwoQuestionGame(store, true)
	service := app.NewGameService(store)

	now := time.Now()
	for _, p := range []domain.Participant{
		{ID: "p1", GameID: "g1", UserID: "u1", DisplayName: "Alice", TotalPointsEarned: 120, IsCompleted: true, JoinedAt: now},
		{ID: "p2", GameID: "g1", UserID: "u2", DisplayName: "Bob", TotalPointsEarned: 150, IsCompleted: true, JoinedAt: now},
		{ID: "p3", GameID: "g1", UserID: "u3", DisplayName: "Carol", TotalPointsEarned: 80, IsCompleted: false, JoinedAt: now},
	} {
		if err := store.CreateParticipant(ctx, p); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
	}

	_, results, err := service.Results(ctx, "g1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 completed participants, got %d", len(results))
	}
	if results[0].UserID != "u2" || results[1].UserID != "u1" {
		t.Fatalf("expected Bob then Alice, got %+v", results)
	}
}

func nextChange(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("change feed closed early")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for change event")
	}
	return domain.ChangeEvent{}
}
