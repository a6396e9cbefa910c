package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

// SessionState is the participant's position in the game lifecycle.
type SessionState int

const (
	// StateWaiting means the game exists but the host has not started it.
	StateWaiting SessionState = iota
	// StateActive means the participant is progressing through the catalog.
	StateActive
	// StateFinished means the cursor passed the last question.
	StateFinished
)

func (s SessionState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// Transition describes what a change feed event did to the session, so the
// caller knows which screen move to perform.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionStarted fires on the game's is_started false->true flip.
	TransitionStarted
	// TransitionCursor fires when the server-confirmed cursor moved.
	TransitionCursor
	// TransitionFinished fires when completion is observed, locally or remotely.
	TransitionFinished
	// TransitionRoster fires when another cursor row in the same game changed;
	// the local cursor is untouched.
	TransitionRoster
)

// Session reconciles one participant's view of {game, cursor, catalog} against
// the store. The store remains the source of truth; local state advances
// optimistically on commit and is replaced wholesale by change feed events
// (last event wins, per-row FIFO).
type Session struct {
	games        GameStore
	questions    QuestionStore
	participants ParticipantStore
	now          func() time.Time

	mu          sync.RWMutex
	game        domain.Game
	participant domain.Participant
	catalog     []domain.Question
}

// LoadSession fetches the game, the participant's cursor, and the full ordered
// catalog. A missing game or cursor row is a terminal load error; the caller
// decides how to surface it. The returned session is in StateWaiting until the
// game starts and StateFinished when the cursor already completed.
func LoadSession(ctx context.Context, games GameStore, questions QuestionStore, participants ParticipantStore, gameID, userID string) (*Session, error) {
	game, err := games.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	participant, err := participants.GetParticipant(ctx, gameID, userID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	catalog, err := questions.ListQuestions(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	sortCatalog(catalog)

	return &Session{
		games:        games,
		questions:    questions,
		participants: participants,
		now:          time.Now,
		game:         game,
		participant:  participant,
		catalog:      catalog,
	}, nil
}

func sortCatalog(catalog []domain.Question) {
	sort.Slice(catalog, func(i, j int) bool {
		return catalog[i].QuestionIndex < catalog[j].QuestionIndex
	})
}

// State derives the lifecycle position from the reconciled view.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	if s.participant.IsCompleted || s.participant.CurrentQuestionIndex >= len(s.catalog) && len(s.catalog) > 0 {
		return StateFinished
	}
	if !s.game.IsStarted {
		return StateWaiting
	}
	return StateActive
}

// Game returns the reconciled game row.
func (s *Session) Game() domain.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game
}

// Participant returns the reconciled cursor.
func (s *Session) Participant() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant
}

// QuestionCount is the catalog length, which defines completion.
func (s *Session) QuestionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.catalog)
}

// CurrentQuestion returns the question under the cursor. ok is false once the
// cursor has advanced past the catalog, which is treated as completion.
func (s *Session) CurrentQuestion() (domain.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.participant.CurrentQuestionIndex
	if idx < 0 || idx >= len(s.catalog) {
		return domain.Question{}, false
	}
	return s.catalog[idx], true
}

// CommitProgress records one completed question: it advances the cursor,
// accumulates points, and flags completion when the cursor passes the end of
// the catalog, as a single atomic row update. questionIndex names the question
// instance being committed; a stale index (already committed, e.g. a duplicate
// completion callback) is ignored, keeping the commit idempotent per instance.
//
// A failed write is logged and local state still advances so the player is
// never blocked; the next change feed event or a reload reconciles divergence.
func (s *Session) CommitProgress(ctx context.Context, questionIndex, pointsEarned int) (finished bool, err error) {
	s.mu.Lock()
	if questionIndex != s.participant.CurrentQuestionIndex || s.participant.IsCompleted {
		finished := s.stateLocked() == StateFinished
		s.mu.Unlock()
		return finished, nil
	}

	nextIndex := s.participant.CurrentQuestionIndex + 1
	completed := nextIndex >= len(s.catalog)
	upd := ProgressUpdate{
		CurrentQuestionIndex: nextIndex,
		TotalPointsEarned:    s.participant.TotalPointsEarned + pointsEarned,
		IsCompleted:          completed,
		LastActiveAt:         s.now(),
	}

	// Optimistic local advance before the write confirms; the store remains
	// canonical and a later feed event corrects any disagreement.
	s.participant.CurrentQuestionIndex = upd.CurrentQuestionIndex
	s.participant.TotalPointsEarned = upd.TotalPointsEarned
	s.participant.IsCompleted = upd.IsCompleted
	s.participant.LastActiveAt = upd.LastActiveAt
	participantID := s.participant.ID
	s.mu.Unlock()

	if _, err := s.participants.UpdateProgress(ctx, participantID, upd); err != nil {
		log.Error().Err(err).
			Str("participant_id", participantID).
			Int("next_index", nextIndex).
			Msg("progress commit failed, continuing on local state")
	}
	return completed, nil
}

// Apply reconciles one change feed event into the session. Events for other
// rows are ignored. Incoming participant values replace local state wholesale
// (last event wins); a completed flag from the feed forces StateFinished
// regardless of local state.
func (s *Session) Apply(ev domain.ChangeEvent) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Table {
	case domain.TableGames:
		if ev.Game == nil || ev.Game.ID != s.game.ID {
			return TransitionNone
		}
		started := !s.game.IsStarted && ev.Game.IsStarted
		s.game = *ev.Game
		if started {
			return TransitionStarted
		}
	case domain.TableParticipants:
		if ev.Participant == nil {
			return TransitionNone
		}
		if ev.Participant.ID != s.participant.ID {
			if ev.Participant.GameID == s.game.ID {
				return TransitionRoster
			}
			return TransitionNone
		}
		if ev.Kind == domain.ChangeDelete {
			// Own row deleted elsewhere; treat as terminal.
			s.participant.IsCompleted = true
			return TransitionFinished
		}
		prevIndex := s.participant.CurrentQuestionIndex
		s.participant = *ev.Participant
		if s.participant.IsCompleted {
			return TransitionFinished
		}
		if s.participant.CurrentQuestionIndex != prevIndex {
			return TransitionCursor
		}
	}
	return TransitionNone
}

// Refresh refetches the full session state, the documented resynchronization
// path after a change feed disconnect and the catalog pickup on game start.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	gameID := s.game.ID
	userID := s.participant.UserID
	s.mu.RUnlock()

	game, err := s.games.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("refresh game: %w", err)
	}
	participant, err := s.participants.GetParticipant(ctx, gameID, userID)
	if err != nil {
		return fmt.Errorf("refresh participant: %w", err)
	}
	catalog, err := s.questions.ListQuestions(ctx, gameID)
	if err != nil {
		return fmt.Errorf("refresh questions: %w", err)
	}
	sortCatalog(catalog)

	s.mu.Lock()
	s.game = game
	s.participant = participant
	s.catalog = catalog
	s.mu.Unlock()
	return nil
}
