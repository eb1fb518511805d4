package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// backendSource binds the attempt backend to the connected student.
type backendSource interface {
	ForStudent(studentID int, studentName string) proctor.Backend
}

// WSHandler runs proctored attempts over a WebSocket.
type WSHandler struct {
	backends backendSource
	cfg      config.ProctorConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(backends backendSource, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		backends: backends,
		cfg:      cfg.Proctor,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// loadedData accompanies the loaded event.
type loadedData struct {
	Exam     any              `json:"exam"`
	Snapshot proctor.Snapshot `json:"snapshot"`
	Policy   proctor.Policy   `json:"policy"`
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/attempt
// Upgrades to WebSocket and runs one proctored attempt for the student.
// Closing the socket tears the attempt down.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()

	peer := ws.NewPeer(conn, wsLog)
	go peer.Run()

	device := ws.NewRemoteDevice(peer)
	attempt := proctor.New(h.backends.ForStudent(claims.UserID, claims.Name), proctor.Options{
		Scheduler:          proctor.TickerScheduler{},
		Provider:           device,
		Capturer:           device,
		Notifier:           proctor.NotifierFunc(func(e proctor.Event) { _ = peer.Send(e) }),
		Logger:             wsLog,
		SettleDelay:        h.cfg.PermissionSettle,
		WarningDismiss:     h.cfg.WarningDismiss,
		ScreenshotInterval: h.cfg.DefaultScreenshotInterval,
		SyncTimeout:        h.cfg.SyncTimeout,
	})

	var tasks sync.WaitGroup
	defer func() {
		peer.Close()
		attempt.Teardown()
		tasks.Wait()
		attempt.WaitBackground()
		wsLog.Info().Str("phase", string(attempt.Phase())).Msg("Student disconnected")
	}()

	if err := attempt.Load(c.Request.Context(), examID, claims.Name); err != nil {
		peer.SendError(loadErrorMessage(err))
		return
	}
	_ = peer.Send(ws.Message{Event: ws.EventLoaded, Data: loadedData{
		Exam:     attempt.Exam().ForStudent(),
		Snapshot: attempt.Snapshot(),
		Policy:   attempt.Policy(),
	}})
	wsLog.Info().Str("attempt_id", attempt.AttemptID().String()).Msg("Student connected")

	// Requests that wait on the browser run off the read loop so command
	// results can still be read.
	async := func(fn func()) {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			fn()
		}()
	}

	for {
		var msg ws.RequestPayload
		if err := peer.Read(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionCommandResult:
			peer.Resolve(ws.CommandResult{ID: msg.CommandID, Result: msg.Result, Error: msg.Error})
		case ws.ActionRequestPermissions:
			async(func() { attempt.Broker().RequestAll(context.Background()) })
		case ws.ActionRequestPermission:
			capability := msg.Capability
			async(func() { attempt.Broker().Request(context.Background(), capability) })
		case ws.ActionProceed:
			if err := attempt.Begin(); err != nil {
				peer.SendError(err.Error())
			}
		case ws.ActionSignal:
			if msg.Signal == nil {
				peer.SendError("signal is required")
				continue
			}
			attempt.Signal(*msg.Signal)
		case ws.ActionAnswer:
			h.handleAnswer(peer, attempt, &msg)
		case ws.ActionFlag:
			h.handleFlag(peer, attempt, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(peer, attempt, &msg)
		case ws.ActionSave:
			n, err := attempt.Save()
			if err != nil {
				peer.SendError(err.Error())
				continue
			}
			_ = peer.Send(ws.Message{Event: ws.EventSaved, Data: ws.SavedData{Resent: n}})
		case ws.ActionSubmit:
			async(func() {
				ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SyncTimeout*3)
				defer cancel()
				// Backend failures already reach the client as submit_failed.
				err := attempt.Submit(ctx)
				if errors.Is(err, proctor.ErrNotReady) || errors.Is(err, proctor.ErrCompleted) || errors.Is(err, proctor.ErrSubmissionInProgress) {
					peer.SendError(err.Error())
				}
			})
		case ws.ActionState:
			_ = peer.Send(ws.Message{Event: ws.EventState, Data: attempt.Snapshot()})
		case ws.ActionPing:
			_ = peer.Send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			peer.SendError("unknown action: " + string(msg.Action))
		}
	}
}

// handleAnswer records an answer; syncing happens inside the attempt.
func (h *WSHandler) handleAnswer(peer *ws.Peer, attempt *proctor.Attempt, msg *ws.RequestPayload) {
	// SECURITY: Validate QID is a well-formed UUID to prevent Redis key injection.
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		peer.SendError("invalid q_id format")
		return
	}
	if err := attempt.SetAnswer(qid, msg.Answer); err != nil {
		peer.SendError(err.Error())
		return
	}
	_ = peer.Send(ws.Message{Event: ws.EventAnswered, Data: ws.AnsweredData{QID: msg.QID, Answer: msg.Answer}})
}

func (h *WSHandler) handleFlag(peer *ws.Peer, attempt *proctor.Attempt, msg *ws.RequestPayload) {
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		peer.SendError("invalid q_id format")
		return
	}
	flagged, err := attempt.ToggleFlag(qid)
	if err != nil {
		peer.SendError(err.Error())
		return
	}
	_ = peer.Send(ws.Message{Event: ws.EventFlagged, Data: ws.FlaggedData{QID: msg.QID, Flagged: flagged}})
}

func (h *WSHandler) handleNavigate(peer *ws.Peer, attempt *proctor.Attempt, msg *ws.RequestPayload) {
	var err error
	switch msg.Direction {
	case ws.DirectionNext:
		_, err = attempt.Next()
	case ws.DirectionPrev:
		_, err = attempt.Prev()
	case ws.DirectionJump:
		_, err = attempt.Jump(msg.Index)
	default:
		err = errors.New("direction must be next, prev or jump")
	}
	if err != nil {
		peer.SendError(err.Error())
	}
}

// loadErrorMessage maps a load failure to a message safe for the student.
func loadErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrExamNotPublished), errors.Is(err, service.ErrExamNotFound):
		return "exam is not available"
	case errors.Is(err, service.ErrExamLocked):
		return "exam is locked, enter the password first"
	case errors.Is(err, service.ErrAlreadyAttempted):
		return "exam already attempted"
	case errors.Is(err, proctor.ErrInvalidExam):
		return "exam has no questions"
	}
	return "failed to load exam"
}
