package app

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

const (
	// RevealCells is the fixed number of overlay cells hiding the image.
	RevealCells = 9
	// SettleDelay holds the resolved result on screen before advancing.
	SettleDelay = 3 * time.Second
)

// EngineEventType tags events emitted by the reveal engine.
type EngineEventType string

const (
	EventCellRevealed EngineEventType = "cellRevealed"
	EventCountdown    EngineEventType = "countdown"
	EventResolved     EngineEventType = "resolved"
	EventCompleted    EngineEventType = "completed"
)

// Resolution is the terminal outcome of one question instance.
type Resolution struct {
	SelectedOption *int `json:"selectedOption"`
	IsCorrect      bool `json:"isCorrect"`
	PointsEarned   int  `json:"pointsEarned"`
	TimedOut       bool `json:"timedOut"`
}

// EngineEvent is one observable step of a running question: a cell reveal with
// the new point value, a countdown tick, the resolution, or completion after
// the settle delay. Completed always carries the resolution.
type EngineEvent struct {
	Type          EngineEventType `json:"type"`
	RevealedCells int             `json:"revealedCells"`
	CurrentPoints int             `json:"currentPoints"`
	TimeRemaining int             `json:"timeRemaining"`
	Resolution    *Resolution     `json:"resolution,omitempty"`
}

// RevealEngine runs the countdown and progressive disclosure for exactly one
// question instance. Two independent clocks (cell cadence, 1 Hz countdown)
// are multiplexed onto a single goroutine; the first of answer or timeout
// wins and the transition happens at most once. The engine is independent of
// network state: a failed answer-log append is logged, never gating.
type RevealEngine struct {
	question      domain.Question
	participantID string
	answers       AnswerLog
	clock         clockwork.Clock

	events   chan EngineEvent
	selectCh chan int
	stopCh   chan struct{}

	stopOnce sync.Once

	mu            sync.Mutex
	revealedCells int
	timeRemaining int
	answered      bool
}

// NewRevealEngine builds an engine for one question attempt. The answer log
// may be nil, in which case resolutions are not recorded.
func NewRevealEngine(q domain.Question, participantID string, answers AnswerLog, clock clockwork.Clock) *RevealEngine {
	// Every event the engine can ever emit fits in the buffer, so the run
	// loop never blocks on a slow consumer.
	capacity := q.QuestionDurationSeconds + RevealCells + 4
	return &RevealEngine{
		question:      q,
		participantID: participantID,
		answers:       answers,
		clock:         clock,
		events:        make(chan EngineEvent, capacity),
		selectCh:      make(chan int, 1),
		stopCh:        make(chan struct{}),
		timeRemaining: q.QuestionDurationSeconds,
	}
}

// Events yields the engine's event stream. The channel closes when the
// question completes or the engine is stopped; no events follow Stop.
func (e *RevealEngine) Events() <-chan EngineEvent {
	return e.events
}

// Answer submits the participant's option selection. Only the first call
// before timeout has effect; later calls report false.
func (e *RevealEngine) Answer(optionIndex int) bool {
	e.mu.Lock()
	if e.answered {
		e.mu.Unlock()
		return false
	}
	e.answered = true
	e.mu.Unlock()

	select {
	case e.selectCh <- optionIndex:
		return true
	case <-e.stopCh:
		return false
	}
}

// Stop cancels both timers and ends the run loop. Safe to call repeatedly and
// concurrently with Run; required on unmount or question change so no timer
// leaks across questions.
func (e *RevealEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Run drives the question to completion and returns its resolution, or nil if
// the engine was stopped or the context cancelled first. It closes the event
// channel on return.
func (e *RevealEngine) Run(ctx context.Context) *Resolution {
	defer close(e.events)

	cadence := time.Duration(e.question.RevealTimeSeconds) * time.Second / RevealCells
	if cadence <= 0 {
		cadence = time.Millisecond
	}
	revealTicker := e.clock.NewTicker(cadence)
	defer revealTicker.Stop()
	countdown := e.clock.NewTicker(time.Second)
	defer countdown.Stop()

	for {
		select {
		case <-revealTicker.Chan():
			if e.revealCell() >= RevealCells {
				revealTicker.Stop()
			}
		case <-countdown.Chan():
			if e.tick() {
				continue
			}
			// Timed out with no answer.
			return e.resolve(ctx, nil)
		case optionIndex := <-e.selectCh:
			return e.resolve(ctx, &optionIndex)
		case <-e.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// revealCell removes one overlay cell and recomputes the decaying point value.
func (e *RevealEngine) revealCell() int {
	e.mu.Lock()
	if e.revealedCells >= RevealCells {
		e.mu.Unlock()
		return RevealCells
	}
	e.revealedCells++
	cells := e.revealedCells
	remaining := e.timeRemaining
	e.mu.Unlock()

	e.emit(EngineEvent{
		Type:          EventCellRevealed,
		RevealedCells: cells,
		CurrentPoints: PointsAtCell(e.question.TotalPoints, cells),
		TimeRemaining: remaining,
	})
	return cells
}

// tick decrements the countdown; it reports false once time has run out and
// the question must resolve as unanswered.
func (e *RevealEngine) tick() bool {
	e.mu.Lock()
	if e.timeRemaining > 0 {
		e.timeRemaining--
	}
	remaining := e.timeRemaining
	cells := e.revealedCells
	timedOut := false
	if remaining <= 0 && !e.answered {
		// Claim the at-most-once transition under the same lock Answer uses,
		// so a selection and the timeout can never both win.
		e.answered = true
		timedOut = true
	}
	e.mu.Unlock()

	e.emit(EngineEvent{
		Type:          EventCountdown,
		RevealedCells: cells,
		CurrentPoints: PointsAtCell(e.question.TotalPoints, cells),
		TimeRemaining: remaining,
	})
	if remaining > 0 {
		return true
	}
	// If an Answer call won the race its selection is already queued and the
	// run loop drains it on the next iteration.
	return !timedOut
}

// resolve performs the at-most-once terminal transition, appends the answer
// record, and emits resolved followed (after the settle delay) by completed.
func (e *RevealEngine) resolve(ctx context.Context, selected *int) *Resolution {
	e.mu.Lock()
	cells := e.revealedCells
	remaining := e.timeRemaining
	e.mu.Unlock()

	res := Resolution{SelectedOption: selected, TimedOut: selected == nil}
	if selected != nil {
		res.IsCorrect = *selected == e.question.CorrectOption
		if res.IsCorrect {
			res.PointsEarned = PointsAtCell(e.question.TotalPoints, cells)
		}
	}

	e.appendAnswer(ctx, res, remaining)

	e.emit(EngineEvent{
		Type:          EventResolved,
		RevealedCells: cells,
		CurrentPoints: PointsAtCell(e.question.TotalPoints, cells),
		TimeRemaining: remaining,
		Resolution:    &res,
	})

	settle := e.clock.NewTimer(SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.Chan():
	case <-e.stopCh:
		return nil
	case <-ctx.Done():
		return nil
	}

	e.emit(EngineEvent{
		Type:          EventCompleted,
		RevealedCells: cells,
		CurrentPoints: PointsAtCell(e.question.TotalPoints, cells),
		TimeRemaining: remaining,
		Resolution:    &res,
	})
	return &res
}

func (e *RevealEngine) appendAnswer(ctx context.Context, res Resolution, remaining int) {
	if e.answers == nil {
		return
	}
	taken := e.question.QuestionDurationSeconds - remaining
	if taken < 0 {
		taken = 0
	}
	err := e.answers.AppendAnswer(ctx, domain.Answer{
		ID:               uuid.NewString(),
		ParticipantID:    e.participantID,
		QuestionID:       e.question.ID,
		AnswerIndex:      res.SelectedOption,
		IsCorrect:        res.IsCorrect,
		PointsEarned:     res.PointsEarned,
		AnsweredAt:       e.clock.Now(),
		TimeTakenSeconds: taken,
	})
	if err != nil {
		log.Error().Err(err).
			Str("participant_id", e.participantID).
			Str("question_id", e.question.ID).
			Msg("answer record append failed")
	}
}

func (e *RevealEngine) emit(ev EngineEvent) {
	select {
	case e.events <- ev:
	default:
		// Buffer is sized for the full event budget; reaching here means a
		// consumer stopped draining after Stop, so dropping is safe.
	}
}

// PointsAtCell is the decaying point curve: the value still available after k
// of the overlay cells have been revealed, rounded to an integer.
func PointsAtCell(total, revealed int) int {
	if revealed >= RevealCells {
		return 0
	}
	if revealed < 0 {
		revealed = 0
	}
	v := float64(total) * float64(RevealCells-revealed) / RevealCells
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}
