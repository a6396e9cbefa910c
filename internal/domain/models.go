package domain

import "time"

// GameStatus is the lifecycle state of a game. Transitions are monotonic:
// pending -> active -> completed or cancelled.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
	GameStatusCancelled GameStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s GameStatus) Terminal() bool {
	return s == GameStatusCompleted || s == GameStatusCancelled
}

// Game is one playable session with an ordered question sequence.
// IsStarted flipping to true is the sole trigger that moves waiting
// participants into active play.
type Game struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	GameCode        string     `json:"gameCode"`
	IsStarted       bool       `json:"isStarted"`
	Status          GameStatus `json:"status"`
	TotalQuestions  int        `json:"totalQuestions"`
	MaxParticipants int        `json:"maxParticipants"` // 0 means unlimited
	CreatedAt       time.Time  `json:"createdAt"`
}

// Question belongs to exactly one game and is immutable once the game is active.
// QuestionIndex is 0-based and dense within a game.
type Question struct {
	ID                      string   `json:"id"`
	GameID                  string   `json:"gameId"`
	QuestionIndex           int      `json:"questionIndex"`
	QuestionText            string   `json:"questionText"`
	ImageURL                string   `json:"imageUrl,omitempty"`
	Options                 []string `json:"options"`
	CorrectOption           int      `json:"correctOption"`
	RevealTimeSeconds       int      `json:"revealTimeSeconds"`
	QuestionDurationSeconds int      `json:"questionDurationSeconds"`
	TotalPoints             int      `json:"totalPointsCanBeEarned"`
}

// Participant is the per-(game, user) progress cursor. CurrentQuestionIndex is
// authoritative and monotonic non-decreasing; TotalPointsEarned only grows;
// IsCompleted is set exactly once, when the cursor passes the last question.
type Participant struct {
	ID                   string    `json:"id"`
	GameID               string    `json:"gameId"`
	UserID               string    `json:"userId"`
	DisplayName          string    `json:"displayName"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	TotalPointsEarned    int       `json:"totalPointsEarned"`
	IsCompleted          bool      `json:"isCompleted"`
	JoinedAt             time.Time `json:"joinedAt"`
	LastActiveAt         time.Time `json:"lastActiveAt"`
}

// Answer is an append-only record of one question attempt. AnswerIndex is nil
// when the question timed out. Never read back to drive navigation.
type Answer struct {
	ID               string    `json:"id"`
	ParticipantID    string    `json:"participantId"`
	QuestionID       string    `json:"questionId"`
	AnswerIndex      *int      `json:"answerIndex"`
	IsCorrect        bool      `json:"isCorrect"`
	PointsEarned     int       `json:"pointsEarned"`
	AnsweredAt       time.Time `json:"answeredAt"`
	TimeTakenSeconds int       `json:"timeTakenSeconds"`
}

// Vote is a ranked-choice voting round over a fixed set of team names.
type Vote struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TeamNames   []string  `json:"teamNames"`
	IsStarted   bool      `json:"isStarted"`
	IsCompleted bool      `json:"isCompleted"`
	IsActive    bool      `json:"isActive"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VoteSubmission is one user's full ranking for a vote, best first.
type VoteSubmission struct {
	ID          string    `json:"id"`
	VoteID      string    `json:"voteId"`
	UserID      string    `json:"userId"`
	RankingData []string  `json:"rankingData"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// TeamStanding is the tallied result for one team across all submissions.
type TeamStanding struct {
	TeamName    string      `json:"teamName"`
	TotalVotes  int         `json:"totalVotes"`
	RankCounts  map[int]int `json:"rankCounts"`
	AverageRank float64     `json:"averageRank"`
	TotalPoints int         `json:"totalPoints"`
}

// ChangeKind classifies a change feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeTable identifies which row type a change event carries.
type ChangeTable string

const (
	TableGames        ChangeTable = "games"
	TableParticipants ChangeTable = "game_participants"
)

// ChangeEvent is one row mutation observed on the change feed. Exactly one of
// Game or Participant is set, matching Table; rows are normalized at the store
// boundary so consumers never see partial shapes. Delivery is at-least-once
// and per-row FIFO while a subscription is live.
type ChangeEvent struct {
	Kind        ChangeKind   `json:"kind"`
	Table       ChangeTable  `json:"table"`
	Game        *Game        `json:"game,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}
