package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// FeedPublisher pushes a committed row mutation onto the change feed. Writes
// that succeed but fail to publish are logged, not rolled back: the row is
// canonical and a reload resynchronizes any viewer that missed the event.
type FeedPublisher interface {
	Publish(ctx context.Context, gameID string, ev domain.ChangeEvent) error
}

// Store is the Postgres-backed persistence layer. Joined and array-valued
// columns are normalized into domain structs here, at the boundary, and
// nowhere else.
type Store struct {
	pool      *pgxpool.Pool
	publisher FeedPublisher // optional
}

func NewStore(pool *pgxpool.Pool, publisher FeedPublisher) *Store {
	return &Store{pool: pool, publisher: publisher}
}

const gameColumns = `id, title, description, game_code, is_started, status, total_questions, max_participants, created_at`

func (s *Store) scanGame(row pgx.Row) (domain.Game, error) {
	var g domain.Game
	err := row.Scan(&g.ID, &g.Title, &g.Description, &g.GameCode, &g.IsStarted, &g.Status,
		&g.TotalQuestions, &g.MaxParticipants, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("scan game: %w", err)
	}
	return g, nil
}

func (s *Store) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	return s.scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id=$1`, gameID))
}

func (s *Store) GetGameByCode(ctx context.Context, gameCode string) (domain.Game, error) {
	return s.scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE game_code=$1`, gameCode))
}

func (s *Store) StartGame(ctx context.Context, gameID string) (domain.Game, error) {
	game, err := s.scanGame(s.pool.QueryRow(ctx,
		`UPDATE games SET is_started=TRUE, status='active'
		 WHERE id=$1 AND status NOT IN ('completed','cancelled')
		 RETURNING `+gameColumns, gameID))
	if err != nil {
		return domain.Game{}, err
	}
	s.publish(ctx, game.ID, domain.ChangeEvent{
		Kind:  domain.ChangeUpdate,
		Table: domain.TableGames,
		Game:  &game,
	})
	return game, nil
}

func (s *Store) ListQuestions(ctx context.Context, gameID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, game_id, question_index, question_text, COALESCE(image_url, ''),
		        options, correct_option, reveal_time_seconds, question_duration_seconds,
		        total_points_can_be_earned
		 FROM game_questions WHERE game_id=$1 ORDER BY question_index`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var catalog []domain.Question
	for rows.Next() {
		var q domain.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.GameID, &q.QuestionIndex, &q.QuestionText, &q.ImageURL,
			&options, &q.CorrectOption, &q.RevealTimeSeconds, &q.QuestionDurationSeconds,
			&q.TotalPoints); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode question options: %w", err)
		}
		catalog = append(catalog, q)
	}
	return catalog, rows.Err()
}

const participantColumns = `id, game_id, user_id, display_name, current_question_index, total_points_earned, is_completed, joined_at, last_active_at`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.DisplayName, &p.CurrentQuestionIndex,
		&p.TotalPointsEarned, &p.IsCompleted, &p.JoinedAt, &p.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrNotParticipant
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, gameID, userID string) (domain.Participant, error) {
	return scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM game_participants WHERE game_id=$1 AND user_id=$2`,
		gameID, userID))
}

func (s *Store) ActiveParticipant(ctx context.Context, userID string) (*domain.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT p.id, p.game_id, p.user_id, p.display_name, p.current_question_index,
		        p.total_points_earned, p.is_completed, p.joined_at, p.last_active_at
		 FROM game_participants p
		 JOIN games g ON g.id = p.game_id
		 WHERE p.user_id=$1 AND p.is_completed=FALSE AND g.status NOT IN ('completed','cancelled')
		 ORDER BY p.joined_at DESC LIMIT 1`, userID))
	if errors.Is(err, domain.ErrNotParticipant) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) listParticipants(ctx context.Context, query, gameID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.GameID, &p.UserID, &p.DisplayName, &p.CurrentQuestionIndex,
			&p.TotalPointsEarned, &p.IsCompleted, &p.JoinedAt, &p.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, gameID string) ([]domain.Participant, error) {
	return s.listParticipants(ctx,
		`SELECT `+participantColumns+` FROM game_participants WHERE game_id=$1 ORDER BY joined_at`,
		gameID)
}

func (s *Store) ListResults(ctx context.Context, gameID string) ([]domain.Participant, error) {
	return s.listParticipants(ctx,
		`SELECT `+participantColumns+` FROM game_participants
		 WHERE game_id=$1 AND is_completed=TRUE ORDER BY total_points_earned DESC, display_name`,
		gameID)
}

func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) error {
	// The (game_id, user_id) unique constraint enforces one cursor per pair.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_participants (`+participantColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.GameID, p.UserID, p.DisplayName, p.CurrentQuestionIndex,
		p.TotalPointsEarned, p.IsCompleted, p.JoinedAt, p.LastActiveAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	s.publish(ctx, p.GameID, domain.ChangeEvent{
		Kind:        domain.ChangeInsert,
		Table:       domain.TableParticipants,
		Participant: &p,
	})
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, participantID string, upd app.ProgressUpdate) (domain.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`UPDATE game_participants
		 SET current_question_index=$2, total_points_earned=$3, is_completed=$4, last_active_at=$5
		 WHERE id=$1
		 RETURNING `+participantColumns,
		participantID, upd.CurrentQuestionIndex, upd.TotalPointsEarned, upd.IsCompleted, upd.LastActiveAt))
	if err != nil {
		return domain.Participant{}, err
	}
	s.publish(ctx, p.GameID, domain.ChangeEvent{
		Kind:        domain.ChangeUpdate,
		Table:       domain.TableParticipants,
		Participant: &p,
	})
	return p, nil
}

func (s *Store) DeleteParticipant(ctx context.Context, gameID, userID string) error {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`DELETE FROM game_participants WHERE game_id=$1 AND user_id=$2
		 RETURNING `+participantColumns, gameID, userID))
	if err != nil {
		return err
	}
	s.publish(ctx, gameID, domain.ChangeEvent{
		Kind:        domain.ChangeDelete,
		Table:       domain.TableParticipants,
		Participant: &p,
	})
	return nil
}

func (s *Store) AppendAnswer(ctx context.Context, a domain.Answer) error {
	// ON CONFLICT DO NOTHING keeps the log write-once per (participant, question).
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_answers (id, game_participant_id, game_question_id, answer_index,
		                           is_correct, points_earned, answered_at, time_taken_seconds)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (game_participant_id, game_question_id) DO NOTHING`,
		a.ID, a.ParticipantID, a.QuestionID, a.AnswerIndex,
		a.IsCorrect, a.PointsEarned, a.AnsweredAt, a.TimeTakenSeconds)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *Store) ListVotes(ctx context.Context) ([]domain.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, team_names, is_started, is_completed, is_active, created_by, created_at
		 FROM votes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVote(row pgx.Row) (domain.Vote, error) {
	var v domain.Vote
	var teamNames []byte
	err := row.Scan(&v.ID, &v.Title, &v.Description, &teamNames, &v.IsStarted, &v.IsCompleted,
		&v.IsActive, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Vote{}, domain.ErrVoteNotFound
	}
	if err != nil {
		return domain.Vote{}, fmt.Errorf("scan vote: %w", err)
	}
	if err := json.Unmarshal(teamNames, &v.TeamNames); err != nil {
		return domain.Vote{}, fmt.Errorf("decode team names: %w", err)
	}
	return v, nil
}

func (s *Store) GetVote(ctx context.Context, voteID string) (domain.Vote, error) {
	return scanVote(s.pool.QueryRow(ctx,
		`SELECT id, title, description, team_names, is_started, is_completed, is_active, created_by, created_at
		 FROM votes WHERE id=$1`, voteID))
}

func (s *Store) ListSubmissions(ctx context.Context, voteID string) ([]domain.VoteSubmission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, vote_id, user_id, ranking_data, submitted_at
		 FROM vote_submissions WHERE vote_id=$1 ORDER BY submitted_at DESC`, voteID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.VoteSubmission
	for rows.Next() {
		var sub domain.VoteSubmission
		var ranking []byte
		if err := rows.Scan(&sub.ID, &sub.VoteID, &sub.UserID, &ranking, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(ranking, &sub.RankingData); err != nil {
			return nil, fmt.Errorf("decode ranking: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) publish(ctx context.Context, gameID string, ev domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, gameID, ev); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("change feed publish failed")
	}
}
