package game

import "errors"

// Sentinel errors returned by engine commands. The API layer maps these onto
// HTTP statuses; everything else surfaces as an internal error.
var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameFinished     = errors.New("game already finished")
	ErrGameRunning      = errors.New("game still running")
	ErrNotYourTurn      = errors.New("not this seat's turn")
	ErrActorDead        = errors.New("actor is not alive")
	ErrWrongPhase       = errors.New("action does not match the current phase")
	ErrInvalidTarget    = errors.New("invalid target")
	ErrSkipLimitReached = errors.New("speech skip limit reached")
	ErrInvalidUtterance = errors.New("utterance rejected")
	ErrBusy             = errors.New("game is busy, retry shortly")
)
