package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// RestHandler serves the game flow around the live session: join by code,
// the active-game redirect probe, host start, waiting roster, results, leave,
// and the admin vote tally.
type RestHandler struct {
	games *app.GameService
	votes *app.VoteService
}

func NewRestHandler(games *app.GameService, votes *app.VoteService) *RestHandler {
	return &RestHandler{games: games, votes: votes}
}

type joinRequest struct {
	GameCode    string `json:"gameCode"`
	DisplayName string `json:"displayName"`
}

type joinResponse struct {
	Game        domain.Game        `json:"game"`
	Participant domain.Participant `json:"participant"`
}

func (h *RestHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid join payload")
		return
	}
	if req.GameCode == "" {
		writeError(w, http.StatusBadRequest, "missing game code")
		return
	}

	game, participant, err := h.games.Join(r.Context(), req.GameCode, userID, req.DisplayName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Game: game, Participant: participant})
}

type activeGameResponse struct {
	Game        *domain.Game        `json:"game"`
	Participant *domain.Participant `json:"participant"`
}

func (h *RestHandler) ActiveGame(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	game, participant, err := h.games.ActiveGame(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activeGameResponse{Game: game, Participant: participant})
}

func (h *RestHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.games.Start(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

type rosterResponse struct {
	Game   domain.Game          `json:"game"`
	Roster []domain.Participant `json:"roster"`
}

func (h *RestHandler) Waiting(w http.ResponseWriter, r *http.Request) {
	game, roster, err := h.games.Roster(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rosterResponse{Game: game, Roster: roster})
}

type resultsResponse struct {
	Game    domain.Game          `json:"game"`
	Results []domain.Participant `json:"results"`
}

func (h *RestHandler) Results(w http.ResponseWriter, r *http.Request) {
	game, results, err := h.games.Results(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{Game: game, Results: results})
}

func (h *RestHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := h.games.Leave(r.Context(), chi.URLParam(r, "gameID"), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RestHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.votes.ListVotes(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

type tallyResponse struct {
	Vote      domain.Vote           `json:"vote"`
	Standings []domain.TeamStanding `json:"standings"`
}

func (h *RestHandler) TallyVote(w http.ResponseWriter, r *http.Request) {
	vote, standings, err := h.votes.TallyVote(r.Context(), chi.URLParam(r, "voteID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tallyResponse{Vote: vote, Standings: standings})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Message: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrVoteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrGameNotJoinable),
		errors.Is(err, domain.ErrGameFull),
		errors.Is(err, domain.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
