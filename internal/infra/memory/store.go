package memory

import (
	"context"
	"sort"
	"sync"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// Store is an in-memory implementation of the full app.Store surface,
// including the change feed. It backs tests and single-node deployments.
type Store struct {
	mu           sync.RWMutex
	games        map[string]domain.Game
	questions    map[string][]domain.Question // by game id, kept index-ordered
	participants map[string]domain.Participant
	answers      []domain.Answer
	answered     map[string]struct{} // participantID+questionID write-once guard
	votes        map[string]domain.Vote
	submissions  map[string][]domain.VoteSubmission
	hub          *Hub
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		games:        make(map[string]domain.Game),
		questions:    make(map[string][]domain.Question),
		participants: make(map[string]domain.Participant),
		answered:     make(map[string]struct{}),
		votes:        make(map[string]domain.Vote),
		submissions:  make(map[string][]domain.VoteSubmission),
		hub:          NewHub(),
	}
}

// SeedGame installs a game with its catalog, for tests and demo data.
func (s *Store) SeedGame(game domain.Game, questions []domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].QuestionIndex < questions[j].QuestionIndex
	})
	game.TotalQuestions = len(questions)
	s.games[game.ID] = game
	s.questions[game.ID] = questions
}

// SeedVote installs a vote with its submissions.
func (s *Store) SeedVote(vote domain.Vote, submissions []domain.VoteSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[vote.ID] = vote
	s.submissions[vote.ID] = submissions
}

func (s *Store) GetGame(_ context.Context, gameID string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return game, nil
}

func (s *Store) GetGameByCode(_ context.Context, gameCode string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, game := range s.games {
		if game.GameCode == gameCode {
			return game, nil
		}
	}
	return domain.Game{}, domain.ErrGameNotFound
}

func (s *Store) StartGame(_ context.Context, gameID string) (domain.Game, error) {
	s.mu.Lock()
	game, ok := s.games[gameID]
	if !ok {
		s.mu.Unlock()
		return domain.Game{}, domain.ErrGameNotFound
	}
	if game.IsStarted {
		s.mu.Unlock()
		return game, nil
	}
	game.IsStarted = true
	game.Status = domain.GameStatusActive
	s.games[gameID] = game
	s.broadcastLocked(gameID, domain.ChangeEvent{
		Kind:  domain.ChangeUpdate,
		Table: domain.TableGames,
		Game:  &game,
	})
	s.mu.Unlock()
	return game, nil
}

func (s *Store) ListQuestions(_ context.Context, gameID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	catalog := s.questions[gameID]
	out := make([]domain.Question, len(catalog))
	copy(out, catalog)
	return out, nil
}

func (s *Store) GetParticipant(_ context.Context, gameID, userID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.GameID == gameID && p.UserID == userID {
			return p, nil
		}
	}
	return domain.Participant{}, domain.ErrNotParticipant
}

func (s *Store) ActiveParticipant(_ context.Context, userID string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Participant
	for id := range s.participants {
		p := s.participants[id]
		if p.UserID != userID || p.IsCompleted {
			continue
		}
		if game, ok := s.games[p.GameID]; !ok || game.Status.Terminal() {
			continue
		}
		if latest == nil || p.JoinedAt.After(latest.JoinedAt) {
			latest = &p
		}
	}
	return latest, nil
}

func (s *Store) ListParticipants(_ context.Context, gameID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.GameID == gameID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) ListResults(_ context.Context, gameID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.GameID == gameID && p.IsCompleted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPointsEarned != out[j].TotalPointsEarned {
			return out[i].TotalPointsEarned > out[j].TotalPointsEarned
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}

func (s *Store) CreateParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
	s.broadcastLocked(p.GameID, domain.ChangeEvent{
		Kind:        domain.ChangeInsert,
		Table:       domain.TableParticipants,
		Participant: &p,
	})
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, participantID string, upd app.ProgressUpdate) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrNotParticipant
	}
	p.CurrentQuestionIndex = upd.CurrentQuestionIndex
	p.TotalPointsEarned = upd.TotalPointsEarned
	p.IsCompleted = upd.IsCompleted
	p.LastActiveAt = upd.LastActiveAt
	s.participants[participantID] = p
	s.broadcastLocked(p.GameID, domain.ChangeEvent{
		Kind:        domain.ChangeUpdate,
		Table:       domain.TableParticipants,
		Participant: &p,
	})
	return p, nil
}

func (s *Store) DeleteParticipant(_ context.Context, gameID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.participants {
		if p.GameID == gameID && p.UserID == userID {
			delete(s.participants, id)
			s.broadcastLocked(gameID, domain.ChangeEvent{
				Kind:        domain.ChangeDelete,
				Table:       domain.TableParticipants,
				Participant: &p,
			})
			return nil
		}
	}
	return domain.ErrNotParticipant
}

func (s *Store) AppendAnswer(_ context.Context, a domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.ParticipantID + "/" + a.QuestionID
	if _, ok := s.answered[key]; ok {
		// Write-once per (participant, question); duplicates are dropped.
		return nil
	}
	s.answered[key] = struct{}{}
	s.answers = append(s.answers, a)
	return nil
}

// Answers snapshots the append-only log, for tests.
func (s *Store) Answers() []domain.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

func (s *Store) ListVotes(_ context.Context) ([]domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Vote, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetVote(_ context.Context, voteID string) (domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.votes[voteID]
	if !ok {
		return domain.Vote{}, domain.ErrVoteNotFound
	}
	return vote, nil
}

func (s *Store) ListSubmissions(_ context.Context, voteID string) ([]domain.VoteSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.submissions[voteID]
	out := make([]domain.VoteSubmission, len(subs))
	copy(out, subs)
	return out, nil
}

// Subscribe registers a change feed consumer scoped to one game. Events are
// delivered in mutation order; the cancel func releases the subscription and
// closes the channel, after which no further events arrive.
func (s *Store) Subscribe(ctx context.Context, gameID string) (<-chan domain.ChangeEvent, func(), error) {
	return s.hub.Subscribe(ctx, gameID)
}

func (s *Store) broadcastLocked(gameID string, ev domain.ChangeEvent) {
	_ = s.hub.Publish(context.Background(), gameID, ev)
}
