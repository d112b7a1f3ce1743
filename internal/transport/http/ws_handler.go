package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/export"
)

// WSHandler wires host and player websocket connections into the game
// service. Snapshots stream to every connection; commands arrive as typed
// JSON messages.
type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService) *WSHandler {
	return &WSHandler{
		service: service,
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

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	// Kind tells clients how to react: "terminal" means navigate away,
	// "retry" means refetch state and try again, "invalid" is a bad request.
	Kind string `json:"kind"`
}

type answerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Choice        string `json:"choice"`
	TimeTakenMs   int64  `json:"timeTakenMs"`
}

type violationPayload struct {
	ViolationType string `json:"violationType"`
}

type kickPayload struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

type joinedPayload struct {
	Participant domain.Participant `json:"participant"`
	Snapshot    domain.Snapshot    `json:"snapshot"`
}

type questionPayload struct {
	Index    int             `json:"index"`
	Question domain.Question `json:"question"`
}

type kickedPayload struct {
	Reason string `json:"reason"`
}

type exportPayload struct {
	CSV string `json:"csv"`
}

func errorMessage(err error) outboundMessage[any] {
	kind := "invalid"
	switch {
	case domain.Terminal(err):
		kind = "terminal"
	case domain.Retryable(err):
		kind = "retry"
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: kind}}
}

// ServeHost upgrades the teacher's connection: it creates a session for the
// requested quiz and accepts phase-transition commands.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	hosted, err := h.service.Host(r.Context(), quizID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	sessionID := hosted.SessionID

	updates, cancel, err := h.service.Subscribe(r.Context(), sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	pump := h.startConnPumps(r.Context(), conn, sessionID, updates, "")
	defer pump.stop()

	pump.deliver(outboundMessage[any]{Type: "hosted", Payload: hosted})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "start":
			h.runTransition(r.Context(), pump, sessionID, h.service.Start)
		case "reveal":
			h.runTransition(r.Context(), pump, sessionID, h.service.Reveal)
		case "next":
			h.runTransition(r.Context(), pump, sessionID, h.service.Next)
		case "end":
			h.runTransition(r.Context(), pump, sessionID, h.service.EndGame)
		case "kick":
			var payload kickPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pump.deliver(errorMessage(errors.New("invalid kick payload")))
				continue
			}
			if _, err := h.service.Kick(r.Context(), sessionID, payload.ParticipantID, payload.Reason); err != nil {
				pump.deliver(errorMessage(err))
			}
		case "export":
			csv, err := h.buildExport(r, sessionID)
			if err != nil {
				pump.deliver(errorMessage(err))
				continue
			}
			pump.deliver(outboundMessage[any]{Type: "export", Payload: exportPayload{CSV: csv}})
		default:
			pump.deliver(errorMessage(errors.New("unsupported message type")))
		}
	}
}

// ServePlay upgrades a student's connection: it joins the room by code and
// accepts answers and violation reports.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	name := r.URL.Query().Get("name")
	email := r.URL.Query().Get("email")
	if code == "" || name == "" || email == "" {
		http.Error(w, "missing code, name, or email", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	current, err := h.service.SessionByCode(r.Context(), code)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	sessionID := current.SessionID

	participant, joined, err := h.service.Join(r.Context(), code, name, email)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()
	defer h.service.Leave(r.Context(), sessionID, participant.ID)

	pump := h.startConnPumps(r.Context(), conn, sessionID, updates, participant.ID)
	defer pump.stop()

	pump.deliver(outboundMessage[any]{Type: "joined", Payload: joinedPayload{Participant: participant, Snapshot: joined}})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pump.deliver(errorMessage(errors.New("invalid answer payload")))
				continue
			}
			choice, ok := domain.ParseChoice(payload.Choice)
			if !ok {
				pump.deliver(errorMessage(errors.New("choice must be one of A, B, C, D")))
				continue
			}
			result, err := h.service.SubmitAnswer(r.Context(), sessionID, participant.ID, payload.QuestionIndex, choice, payload.TimeTakenMs)
			if err != nil {
				pump.deliver(errorMessage(err))
				continue
			}
			pump.deliver(outboundMessage[any]{Type: "answerResult", Payload: result})
		case "violation":
			var payload violationPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pump.deliver(errorMessage(errors.New("invalid violation payload")))
				continue
			}
			// A triggered kick reaches this client through the snapshot pump.
			if _, err := h.service.ReportViolation(r.Context(), sessionID, participant.ID, payload.ViolationType); err != nil {
				pump.deliver(errorMessage(err))
			}
		default:
			pump.deliver(errorMessage(errors.New("unsupported message type")))
		}
	}
}

// connPump owns the shared writer and snapshot-pump goroutines of one
// connection. All outbound traffic goes through deliver, and stop must run
// before the handler exits so the writer drains.
type connPump struct {
	send         chan outboundMessage[any]
	closeSignals chan struct{}
	writerDone   chan struct{}
	updatesDone  chan struct{}
}

// deliver enqueues a message unless the writer already exited. A dead
// writer stops draining the buffer, so an unguarded send would block its
// caller forever.
func (p *connPump) deliver(msg outboundMessage[any]) {
	select {
	case p.send <- msg:
	case <-p.writerDone:
	}
}

func (p *connPump) stop() {
	close(p.closeSignals)
	<-p.updatesDone
	close(p.send)
	<-p.writerDone
}

// startConnPumps spawns the goroutines for one connection. A non-empty
// selfID enables kick detection for players.
func (h *WSHandler) startConnPumps(ctx context.Context, conn *websocket.Conn, sessionID string, updates <-chan domain.Snapshot, selfID string) *connPump {
	p := &connPump{
		send:         make(chan outboundMessage[any], 16),
		closeSignals: make(chan struct{}),
		writerDone:   make(chan struct{}),
		updatesDone:  make(chan struct{}),
	}

	go func() {
		defer close(p.writerDone)
		for msg := range p.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(p.updatesDone)
		lastQuestion := -1
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				msgs := []outboundMessage[any]{{Type: "snapshot", Payload: snap}}
				if snap.Status == domain.StatusQuestion && snap.CurrentQuestionIndex != lastQuestion {
					lastQuestion = snap.CurrentQuestionIndex
					if q, err := h.service.Question(ctx, sessionID, snap.CurrentQuestionIndex); err == nil {
						msgs = append(msgs, outboundMessage[any]{
							Type:    "question",
							Payload: questionPayload{Index: snap.CurrentQuestionIndex, Question: q},
						})
					}
				}
				if selfID != "" {
					if reason, kicked := kickReason(snap, selfID); kicked {
						msgs = append(msgs, outboundMessage[any]{Type: "kicked", Payload: kickedPayload{Reason: reason}})
					}
				}
				for _, msg := range msgs {
					select {
					case p.send <- msg:
					case <-p.writerDone:
						return
					case <-p.closeSignals:
						return
					}
				}
			case <-p.closeSignals:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return p
}

func (h *WSHandler) runTransition(ctx context.Context, pump *connPump, sessionID string, fn func(ctx context.Context, sessionID string) (domain.Snapshot, error)) {
	if _, err := fn(ctx, sessionID); err != nil {
		pump.deliver(errorMessage(err))
	}
}

func (h *WSHandler) buildExport(r *http.Request, sessionID string) (string, error) {
	snap, err := h.service.Snapshot(r.Context(), sessionID)
	if err != nil {
		return "", err
	}
	answers := make(map[string][]domain.Answer, len(snap.Participants))
	for _, p := range snap.Participants {
		list, err := h.service.Answers(r.Context(), sessionID, p.ID)
		if err != nil {
			return "", err
		}
		answers[p.ID] = list
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, snap, answers); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func kickReason(snap domain.Snapshot, participantID string) (string, bool) {
	for _, p := range snap.Participants {
		if p.ID == participantID && p.Status == domain.ParticipantKicked {
			return p.KickReason, true
		}
	}
	return "", false
}
