package app

import (
	"context"
	"sort"

	"trivia-live-service/internal/domain"
)

// rankPoints awards 5 for first place down to 1 for fifth; ranks past that
// earn nothing.
func rankPoints(rank int) int {
	p := 6 - rank
	if p < 0 {
		return 0
	}
	return p
}

// unrankedAverage is the rank reported for teams no submission placed, one
// past the last scoring rank.
const unrankedAverage = 6

// VoteService serves the admin roll-up over ranked-choice votes.
type VoteService struct {
	votes VoteStore
}

func NewVoteService(votes VoteStore) *VoteService {
	return &VoteService{votes: votes}
}

// ListVotes returns every vote, newest first as ordered by the store.
func (s *VoteService) ListVotes(ctx context.Context) ([]domain.Vote, error) {
	return s.votes.ListVotes(ctx)
}

// TallyVote fetches a vote's submissions and computes the live standings.
func (s *VoteService) TallyVote(ctx context.Context, voteID string) (domain.Vote, []domain.TeamStanding, error) {
	vote, err := s.votes.GetVote(ctx, voteID)
	if err != nil {
		return domain.Vote{}, nil, err
	}
	submissions, err := s.votes.ListSubmissions(ctx, voteID)
	if err != nil {
		return domain.Vote{}, nil, err
	}
	return vote, Tally(vote, submissions), nil
}

// Tally aggregates ranked submissions into per-team standings: vote counts,
// per-rank histograms, average rank, and rank points. Teams the vote does not
// name are ignored even if a submission ranks them; teams no submission ranks
// report the worst average rank. Standings are ordered by points descending,
// then average rank ascending, then name.
func Tally(vote domain.Vote, submissions []domain.VoteSubmission) []domain.TeamStanding {
	stats := make(map[string]*domain.TeamStanding, len(vote.TeamNames))
	for _, name := range vote.TeamNames {
		stats[name] = &domain.TeamStanding{
			TeamName:   name,
			RankCounts: make(map[int]int),
		}
	}

	for _, submission := range submissions {
		for i, teamName := range submission.RankingData {
			entry, ok := stats[teamName]
			if !ok {
				continue
			}
			rank := i + 1
			entry.TotalVotes++
			entry.RankCounts[rank]++
			entry.TotalPoints += rankPoints(rank)
		}
	}

	standings := make([]domain.TeamStanding, 0, len(stats))
	for _, entry := range stats {
		var rankSum int
		for rank, count := range entry.RankCounts {
			rankSum += rank * count
		}
		if entry.TotalVotes > 0 {
			entry.AverageRank = float64(rankSum) / float64(entry.TotalVotes)
		} else {
			entry.AverageRank = unrankedAverage
		}
		standings = append(standings, *entry)
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].TotalPoints != standings[j].TotalPoints {
			return standings[i].TotalPoints > standings[j].TotalPoints
		}
		if standings[i].AverageRank != standings[j].AverageRank {
			return standings[i].AverageRank < standings[j].AverageRank
		}
		return standings[i].TeamName < standings[j].TeamName
	})
	return standings
}
