package app

import (
	"context"
	"time"

	"trivia-live-service/internal/domain"
)

// GameStore reads and mutates game lifecycle rows.
type GameStore interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
	GetGameByCode(ctx context.Context, gameCode string) (domain.Game, error)
	// StartGame flips is_started and moves status to active. Starting an
	// already-started game is a no-op returning the current row.
	StartGame(ctx context.Context, gameID string) (domain.Game, error)
}

// QuestionStore loads the ordered, immutable question catalog of a game.
type QuestionStore interface {
	ListQuestions(ctx context.Context, gameID string) ([]domain.Question, error)
}

// ProgressUpdate is the single atomic write CommitProgress performs against a
// participant row, keyed by participant id.
type ProgressUpdate struct {
	CurrentQuestionIndex int
	TotalPointsEarned    int
	IsCompleted          bool
	LastActiveAt         time.Time
}

// ParticipantStore owns the per-(game, user) progress cursor rows.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, gameID, userID string) (domain.Participant, error)
	// ActiveParticipant returns the user's cursor in their most recently joined
	// non-completed game, or nil when the user is not in any active game.
	ActiveParticipant(ctx context.Context, userID string) (*domain.Participant, error)
	ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error)
	// ListResults returns completed participants ordered by points, best first.
	ListResults(ctx context.Context, gameID string) ([]domain.Participant, error)
	CreateParticipant(ctx context.Context, p domain.Participant) error
	UpdateProgress(ctx context.Context, participantID string, upd ProgressUpdate) (domain.Participant, error)
	// DeleteParticipant removes the cursor row entirely; rejoining starts over.
	DeleteParticipant(ctx context.Context, gameID, userID string) error
}

// AnswerLog appends write-once answer records. The log is best-effort
// telemetry; callers never gate progression on it.
type AnswerLog interface {
	AppendAnswer(ctx context.Context, a domain.Answer) error
}

// VoteStore reads ranked-choice votes and their submissions.
type VoteStore interface {
	ListVotes(ctx context.Context) ([]domain.Vote, error)
	GetVote(ctx context.Context, voteID string) (domain.Vote, error)
	ListSubmissions(ctx context.Context, voteID string) ([]domain.VoteSubmission, error)
}

// ChangeFeed yields row mutation events scoped to one game: its game row plus
// every participant row in it. Delivery is at-least-once and per-row FIFO
// while the subscription is live; nothing is guaranteed across a disconnect,
// so reconnecting consumers must refetch before resuming.
//
// The returned cancel releases the subscription; events stop and the channel
// closes after it returns.
type ChangeFeed interface {
	Subscribe(ctx context.Context, gameID string) (<-chan domain.ChangeEvent, func(), error)
}

// Store is the full persistence surface the service is wired with.
type Store interface {
	GameStore
	QuestionStore
	ParticipantStore
	AnswerLog
	VoteStore
	ChangeFeed
}
