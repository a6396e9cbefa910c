package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// WSHandler runs one live game session per connection: it loads the
// synchronizer, subscribes to the change feed, and drives a reveal engine per
// question, forwarding engine events to the client and answers back in.
type WSHandler struct {
	service  *app.GameService
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, clock clockwork.Clock) *WSHandler {
	return &WSHandler{
		service: service,
		clock:   clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionIndex int `json:"optionIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type waitingPayload struct {
	Game   domain.Game          `json:"game"`
	Roster []domain.Participant `json:"roster"`
}

type questionPayload struct {
	Question       domain.Question `json:"question"`
	QuestionNumber int             `json:"questionNumber"`
	TotalQuestions int             `json:"totalQuestions"`
	TotalPoints    int             `json:"totalPointsEarned"`
}

type completedPayload struct {
	Participant domain.Participant `json:"participant"`
}

// wsSession holds the per-connection moving parts shared between the play
// loop, the reader, and the feed pump.
type wsSession struct {
	sess *app.Session

	mu        sync.Mutex
	engine    *app.RevealEngine
	interrupt bool // feed moved the cursor under a running engine

	startedCh chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (w *wsSession) close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *wsSession) setEngine(e *app.RevealEngine) {
	w.mu.Lock()
	w.engine = e
	w.interrupt = false
	w.mu.Unlock()
}

// interruptEngine stops a running engine because the server-confirmed cursor
// moved underneath it; the play loop re-derives the question to render.
func (w *wsSession) interruptEngine() {
	w.mu.Lock()
	engine := w.engine
	if engine != nil {
		w.interrupt = true
	}
	w.mu.Unlock()
	if engine != nil {
		engine.Stop()
	}
}

func (w *wsSession) answer(optionIndex int) {
	w.mu.Lock()
	engine := w.engine
	w.mu.Unlock()
	if engine != nil {
		engine.Answer(optionIndex)
	}
}

func (w *wsSession) wasInterrupted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interrupt
}

// ServeWS upgrades the request and runs the session until the game completes
// or the client goes away. All timers and the feed subscription are released
// unconditionally on exit, including error paths.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	userID := identityFrom(r)
	if gameID == "" || userID == "" {
		http.Error(w, "missing gameId or identity", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	// Subscribe before loading the snapshot so a mutation landing between the
	// two is observed as a feed event instead of falling into the gap.
	events, cancelFeed, err := h.service.Subscribe(ctx, gameID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelFeed()

	sess, err := h.service.LoadSession(ctx, gameID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	ws := &wsSession{
		sess:      sess,
		startedCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	send := make(chan outboundMessage[any], 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	// post delivers a message unless the session is shutting down.
	post := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-ws.done:
		}
	}

	var producers sync.WaitGroup

	// Feed pump: reconcile external mutations into the synchronizer.
	producers.Add(1)
	go func() {
		defer producers.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.reconcile(ctx, ws, ev, post)
			case <-ws.done:
				return
			}
		}
	}()

	// Reader: client answers and leave requests.
	go func() {
		defer ws.close()
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				return
			}
			switch inbound.Type {
			case "answer":
				var payload answerPayload
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
					continue
				}
				ws.answer(payload.OptionIndex)
			case "leave":
				if err := h.service.Leave(ctx, gameID, userID); err != nil {
					post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
					continue
				}
				return
			default:
				post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
			}
		}
	}()

	h.play(ctx, ws, post)

	ws.close()
	ws.interruptEngine()
	cancelFeed()
	producers.Wait()
	close(send)
	<-writerDone
}

// reconcile applies one change feed event and translates its transition into
// session movement. Last event wins; a completed flag from the feed forces the
// terminal view regardless of local state.
func (h *WSHandler) reconcile(ctx context.Context, ws *wsSession, ev domain.ChangeEvent, post func(outboundMessage[any])) {
	switch ws.sess.Apply(ev) {
	case app.TransitionStarted:
		select {
		case ws.startedCh <- struct{}{}:
		default:
		}
	case app.TransitionRoster:
		// Another cursor in this game appeared, moved, or left. Only the
		// waiting screen renders the roster, so repost it there.
		if ws.sess.State() != app.StateWaiting {
			return
		}
		game := ws.sess.Game()
		roster, err := h.waitingRoster(ctx, game.ID)
		if err != nil {
			log.Debug().Err(err).Str("game_id", game.ID).Msg("roster refresh failed")
			return
		}
		post(outboundMessage[any]{Type: "waiting", Payload: waitingPayload{Game: game, Roster: roster}})
	case app.TransitionCursor:
		ws.interruptEngine()
	case app.TransitionFinished:
		ws.interruptEngine()
		post(outboundMessage[any]{Type: "completed", Payload: completedPayload{Participant: ws.sess.Participant()}})
		ws.close()
	}
}

// play drives the session state machine until completion or disconnect.
func (h *WSHandler) play(ctx context.Context, ws *wsSession, post func(outboundMessage[any])) {
	for {
		select {
		case <-ws.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch ws.sess.State() {
		case app.StateWaiting:
			game := ws.sess.Game()
			roster, err := h.waitingRoster(ctx, game.ID)
			if err != nil {
				post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
			post(outboundMessage[any]{Type: "waiting", Payload: waitingPayload{Game: game, Roster: roster}})

			select {
			case <-ws.startedCh:
				// Pick up the catalog now that the game is live.
				if err := ws.sess.Refresh(ctx); err != nil {
					post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
					return
				}
			case <-ws.done:
				return
			case <-ctx.Done():
				return
			}

		case app.StateFinished:
			post(outboundMessage[any]{Type: "completed", Payload: completedPayload{Participant: ws.sess.Participant()}})
			return

		case app.StateActive:
			question, ok := ws.sess.CurrentQuestion()
			if !ok {
				post(outboundMessage[any]{Type: "completed", Payload: completedPayload{Participant: ws.sess.Participant()}})
				return
			}
			participant := ws.sess.Participant()
			post(outboundMessage[any]{Type: "question", Payload: questionPayload{
				Question:       question,
				QuestionNumber: question.QuestionIndex + 1,
				TotalQuestions: ws.sess.QuestionCount(),
				TotalPoints:    participant.TotalPointsEarned,
			}})

			engine := app.NewRevealEngine(question, participant.ID, h.service.AnswerLog(), h.clock)
			ws.setEngine(engine)

			forwarded := make(chan struct{})
			go func() {
				defer close(forwarded)
				for ev := range engine.Events() {
					post(outboundMessage[any]{Type: "engine", Payload: ev})
				}
			}()

			res := engine.Run(ctx)
			// Capture the flag before setEngine clears it.
			interrupted := ws.wasInterrupted()
			ws.setEngine(nil)
			<-forwarded

			if res == nil {
				if interrupted {
					// External write advanced the cursor; loop re-derives.
					continue
				}
				return
			}
			if _, err := ws.sess.CommitProgress(ctx, question.QuestionIndex, res.PointsEarned); err != nil {
				post(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		}
	}
}

func (h *WSHandler) waitingRoster(ctx context.Context, gameID string) ([]domain.Participant, error) {
	_, roster, err := h.service.Roster(ctx, gameID)
	return roster, err
}
