package domain

import "errors"

var (
	// ErrGameNotFound is returned when no game matches the given id or code.
	ErrGameNotFound = errors.New("game not found")
	// ErrNotParticipant is returned when the user has no cursor row in the game.
	ErrNotParticipant = errors.New("not a participant in this game")
	// ErrGameNotJoinable is returned when joining a completed or cancelled game.
	ErrGameNotJoinable = errors.New("game can no longer be joined")
	// ErrGameFull is returned when the participant cap has been reached.
	ErrGameFull = errors.New("game is full")
	// ErrAlreadyFinished is returned for play actions after the cursor completed.
	ErrAlreadyFinished = errors.New("participant already finished the game")
	// ErrVoteNotFound is returned when no vote matches the given id.
	ErrVoteNotFound = errors.New("vote not found")
)
