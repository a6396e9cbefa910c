package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

// GameService contains the game flow use cases around the live session core:
// joining by code, the waiting room, host start, results, and leaving.
type GameService struct {
	games        GameStore
	questions    QuestionStore
	participants ParticipantStore
	answers      AnswerLog
	feed         ChangeFeed
	now          func() time.Time
}

func NewGameService(store Store) *GameService {
	return &GameService{
		games:        store,
		questions:    store,
		participants: store,
		answers:      store,
		feed:         store,
		now:          time.Now,
	}
}

// NewGameServiceParts wires each concern separately, for mixed backends
// (e.g. Postgres rows with a Redis-cached catalog).
func NewGameServiceParts(games GameStore, questions QuestionStore, participants ParticipantStore, answers AnswerLog, feed ChangeFeed) *GameService {
	return &GameService{
		games:        games,
		questions:    questions,
		participants: participants,
		answers:      answers,
		feed:         feed,
		now:          time.Now,
	}
}

// AnswerLog exposes the answer sink for reveal engine construction.
func (s *GameService) AnswerLog() AnswerLog { return s.answers }

// Join resolves a short game code and creates a fresh cursor at index 0.
// Re-joining a game the user is already in returns the existing cursor
// unchanged unless it already finished, which is reported as
// ErrAlreadyFinished so the client can show results instead. Completed and
// cancelled games reject joins, as do full ones.
func (s *GameService) Join(ctx context.Context, gameCode, userID, displayName string) (domain.Game, domain.Participant, error) {
	game, err := s.games.GetGameByCode(ctx, strings.ToUpper(strings.TrimSpace(gameCode)))
	if err != nil {
		return domain.Game{}, domain.Participant{}, err
	}
	if game.Status.Terminal() {
		return domain.Game{}, domain.Participant{}, domain.ErrGameNotJoinable
	}

	existing, err := s.participants.GetParticipant(ctx, game.ID, userID)
	if err == nil {
		if existing.IsCompleted {
			return domain.Game{}, domain.Participant{}, domain.ErrAlreadyFinished
		}
		return game, existing, nil
	}
	if !errors.Is(err, domain.ErrNotParticipant) {
		return domain.Game{}, domain.Participant{}, fmt.Errorf("check membership: %w", err)
	}

	if game.MaxParticipants > 0 {
		roster, err := s.participants.ListParticipants(ctx, game.ID)
		if err != nil {
			return domain.Game{}, domain.Participant{}, fmt.Errorf("check capacity: %w", err)
		}
		if len(roster) >= game.MaxParticipants {
			return domain.Game{}, domain.Participant{}, domain.ErrGameFull
		}
	}

	now := s.now()
	participant := domain.Participant{
		ID:           uuid.NewString(),
		GameID:       game.ID,
		UserID:       userID,
		DisplayName:  displayName,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	if err := s.participants.CreateParticipant(ctx, participant); err != nil {
		return domain.Game{}, domain.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	return game, participant, nil
}

// ActiveGame is the redirect probe used before joining: it reports the game
// the user is already playing (or waiting in), if any.
func (s *GameService) ActiveGame(ctx context.Context, userID string) (*domain.Game, *domain.Participant, error) {
	participant, err := s.participants.ActiveParticipant(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if participant == nil {
		return nil, nil, nil
	}
	game, err := s.games.GetGame(ctx, participant.GameID)
	if err != nil {
		return nil, nil, err
	}
	if game.Status.Terminal() {
		return nil, nil, nil
	}
	return &game, participant, nil
}

// Start flips is_started, the sole trigger that moves waiting participants
// into active play. The resulting game-row change event fans out to every
// subscribed viewer.
func (s *GameService) Start(ctx context.Context, gameID string) (domain.Game, error) {
	game, err := s.games.StartGame(ctx, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	log.Info().Str("game_id", game.ID).Str("game_code", game.GameCode).Msg("game started")
	return game, nil
}

// Roster lists the waiting-room participants of a game.
func (s *GameService) Roster(ctx context.Context, gameID string) (domain.Game, []domain.Participant, error) {
	game, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return domain.Game{}, nil, err
	}
	roster, err := s.participants.ListParticipants(ctx, gameID)
	if err != nil {
		return domain.Game{}, nil, err
	}
	return game, roster, nil
}

// Results returns the completed participants of a game ordered by points,
// best first.
func (s *GameService) Results(ctx context.Context, gameID string) (domain.Game, []domain.Participant, error) {
	game, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return domain.Game{}, nil, err
	}
	results, err := s.participants.ListResults(ctx, gameID)
	if err != nil {
		return domain.Game{}, nil, err
	}
	return game, results, nil
}

// Leave deletes the participant's cursor row. The delete is terminal:
// rejoining creates a fresh cursor at index 0.
func (s *GameService) Leave(ctx context.Context, gameID, userID string) error {
	if err := s.participants.DeleteParticipant(ctx, gameID, userID); err != nil {
		return err
	}
	log.Info().Str("game_id", gameID).Str("user_id", userID).Msg("participant left game")
	return nil
}

// LoadSession builds the synchronizer for one participant's view.
func (s *GameService) LoadSession(ctx context.Context, gameID, userID string) (*Session, error) {
	return LoadSession(ctx, s.games, s.questions, s.participants, gameID, userID)
}

// Subscribe opens the change feed scoped to one game.
func (s *GameService) Subscribe(ctx context.Context, gameID string) (<-chan domain.ChangeEvent, func(), error) {
	return s.feed.Subscribe(ctx, gameID)
}
