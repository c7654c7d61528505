package http

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"time"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sessionCookie = "quiz_session"

// Handler exposes the routed views over JSON endpoints. Each view entry
// recovers the persisted session and reports the route matching its
// status, so a reload or direct navigation can never desynchronize the
// client from the session state.
type Handler struct {
	service   *app.SessionService
	countdown *app.Countdown
	log       zerolog.Logger

	// baseCtx outlives individual requests; countdown runners started on
	// behalf of a request must keep ticking after it returns.
	baseCtx context.Context
}

func NewHandler(baseCtx context.Context, service *app.SessionService, countdown *app.Countdown, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		countdown: countdown,
		log:       log.With().Str("component", "http").Logger(),
		baseCtx:   baseCtx,
	}
}

// Register wires all endpoints into mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.createSession)
	mux.HandleFunc("GET /api/session", h.getSession)
	mux.HandleFunc("POST /api/session/questions", h.ensureQuestions)
	mux.HandleFunc("POST /api/session/answer", h.recordAnswer)
	mux.HandleFunc("POST /api/session/navigate", h.navigate)
	mux.HandleFunc("POST /api/session/submit", h.submit)
	mux.HandleFunc("POST /api/session/restart", h.restart)
	mux.HandleFunc("GET /api/report", h.report)
	mux.HandleFunc("GET /api/reports", h.reportHistory)
	mux.HandleFunc("GET /ws", h.serveWS)
}

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	Email string `json:"email"`
}

// answerRequest addresses the chosen option by position. The API serves
// entity-decoded display text, so clients cannot echo back the raw stored
// choice string; the index resolves to it server-side.
type answerRequest struct {
	Index       int `json:"index"`
	ChoiceIndex int `json:"choiceIndex"`
}

type navigateRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type navigateResponse struct {
	Index int `json:"index"`
}

// questionView is a display-ready question: entities decoded, correct
// answer withheld while the session is live.
type questionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

type panelEntry struct {
	Index     int  `json:"index"`
	Visited   bool `json:"visited"`
	Attempted bool `json:"attempted"`
}

type sessionView struct {
	Status           domain.Status  `json:"status"`
	Route            string         `json:"route"`
	Email            string         `json:"email,omitempty"`
	StartedAt        int64          `json:"startedAt,omitempty"`
	DurationSeconds  int            `json:"durationSeconds,omitempty"`
	RemainingSeconds int            `json:"remainingSeconds,omitempty"`
	Questions        []questionView `json:"questions,omitempty"`
	Answers          map[int]string `json:"answers,omitempty"`
	Panel            []panelEntry   `json:"panel,omitempty"`
	AttemptedCount   int            `json:"attemptedCount"`
	Total            int            `json:"total"`
}

type reportQuestionView struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	UserAnswer    string `json:"userAnswer"`
	Answered      bool   `json:"answered"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
}

type historyEntry struct {
	Email         string `json:"email"`
	CorrectCount  int    `json:"correctCount"`
	Total         int    `json:"total"`
	AutoSubmitted bool   `json:"autoSubmitted"`
}

type historyResponse struct {
	Reports []historyEntry `json:"reports"`
}

type reportView struct {
	Route         string               `json:"route"`
	Email         string               `json:"email"`
	CorrectCount  int                  `json:"correctCount"`
	Total         int                  `json:"total"`
	AutoSubmitted bool                 `json:"autoSubmitted"`
	PerQuestion   []reportQuestionView `json:"perQuestion"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	key := h.sessionKey(w, r)
	session, err := h.service.Create(r.Context(), key, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidIdentity) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "please enter a valid email address"})
			return
		}
		h.fail(w, err)
		return
	}

	h.countdown.Start(h.baseCtx, key)
	writeJSON(w, http.StatusCreated, h.viewOf(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusOK, sessionView{Status: domain.StatusNotStarted, Route: "/"})
		return
	}
	session, found, err := h.service.Recover(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, sessionView{Status: domain.StatusNotStarted, Route: "/"})
		return
	}
	if session.Status == domain.StatusInProgress {
		// Re-entry restarts the ticker if the server lost it; Start is a
		// no-op when a runner is already live.
		h.countdown.Start(h.baseCtx, key)
	}
	writeJSON(w, http.StatusOK, h.viewOf(session))
}

func (h *Handler) ensureQuestions(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	session, err := h.service.EnsureQuestions(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionFetch) {
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not load questions, please restart"})
			return
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewOf(session))
}

func (h *Handler) recordAnswer(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	session, found, err := h.service.Recover(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	// Resolve the raw stored choice; answer comparison must run over the
	// provider's encoding, not the decoded display text. Stale indices are
	// absorbed like every other out-of-range input.
	if req.Index < 0 || req.Index >= len(session.Questions) ||
		req.ChoiceIndex < 0 || req.ChoiceIndex >= len(session.Questions[req.Index].Choices) {
		writeJSON(w, http.StatusOK, h.viewOf(session))
		return
	}
	choice := session.Questions[req.Index].Choices[req.ChoiceIndex]
	session, err = h.service.RecordAnswer(r.Context(), key, req.Index, choice)
	if err != nil {
		h.notFoundOrFail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewOf(session))
}

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	index, err := h.service.Navigate(r.Context(), key, req.From, req.To)
	if err != nil {
		h.notFoundOrFail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, navigateResponse{Index: index})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	session, err := h.service.Submit(r.Context(), key, true)
	if err != nil {
		h.notFoundOrFail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.viewOf(session))
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if ok {
		h.countdown.Stop(key)
		if err := h.service.Restart(r.Context(), key); err != nil {
			h.fail(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, sessionView{Status: domain.StatusNotStarted, Route: "/"})
		return
	}
	session, found, err := h.service.Recover(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, sessionView{Status: domain.StatusNotStarted, Route: "/"})
		return
	}
	// Route guard: scoring an unfinished session is a caller error, so the
	// report view is unreachable until the session submits.
	if session.Status != domain.StatusSubmitted {
		writeJSON(w, http.StatusConflict, sessionView{Status: session.Status, Route: "/quiz"})
		return
	}
	report, err := app.Score(session)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportViewOf(session, report))
}

// reportHistory lists every archived report for the current session's
// email, newest first. Available only when an archive is configured.
func (h *Handler) reportHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := h.existingKey(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	session, found, err := h.service.Recover(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	reports, err := h.service.History(r.Context(), session.Identity)
	if err != nil {
		h.fail(w, err)
		return
	}
	entries := make([]historyEntry, 0, len(reports))
	for _, rep := range reports {
		entries = append(entries, historyEntry{
			Email:         rep.Identity,
			CorrectCount:  rep.CorrectCount,
			Total:         rep.Total,
			AutoSubmitted: rep.AutoSubmitted,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{Reports: entries})
}

// viewOf assembles the display DTO. Entity decoding happens here and only
// here; the stored session keeps provider-raw text.
func (h *Handler) viewOf(s domain.Session) sessionView {
	view := sessionView{
		Status:           s.Status,
		Route:            routeFor(s.Status),
		Email:            s.Identity,
		StartedAt:        s.StartedAt,
		DurationSeconds:  s.DurationSeconds,
		AttemptedCount:   s.AttemptedCount(),
		Total:            len(s.Questions),
		RemainingSeconds: app.RemainingSeconds(s, time.Now()),
	}
	for _, q := range s.Questions {
		choices := make([]string, len(q.Choices))
		for i, c := range q.Choices {
			choices[i] = html.UnescapeString(c)
		}
		view.Questions = append(view.Questions, questionView{
			ID:      q.ID,
			Text:    html.UnescapeString(q.Text),
			Choices: choices,
		})
	}
	if len(s.Answers) > 0 {
		view.Answers = make(map[int]string, len(s.Answers))
		for i, a := range s.Answers {
			view.Answers[i] = html.UnescapeString(a)
		}
	}
	for i := range s.Questions {
		view.Panel = append(view.Panel, panelEntry{
			Index:     i,
			Visited:   s.Visited[i],
			Attempted: s.Attempted(i),
		})
	}
	return view
}

func reportViewOf(s domain.Session, r domain.Report) reportView {
	view := reportView{
		Route:         "/report",
		Email:         r.Identity,
		CorrectCount:  r.CorrectCount,
		Total:         r.Total,
		AutoSubmitted: r.AutoSubmitted,
	}
	for _, qr := range r.PerQuestion {
		view.PerQuestion = append(view.PerQuestion, reportQuestionView{
			Index:         qr.Index,
			Text:          html.UnescapeString(s.Questions[qr.Index].Text),
			UserAnswer:    html.UnescapeString(qr.UserAnswer),
			Answered:      qr.Answered,
			CorrectAnswer: html.UnescapeString(qr.CorrectAnswer),
			Correct:       qr.Correct,
		})
	}
	return view
}

func routeFor(status domain.Status) string {
	switch status {
	case domain.StatusInProgress:
		return "/quiz"
	case domain.StatusSubmitted:
		return "/report"
	default:
		return "/"
	}
}

// sessionKey returns the client's session key, minting one into a cookie
// when absent.
func (h *Handler) sessionKey(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return key
}

func (h *Handler) existingKey(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (h *Handler) notFoundOrFail(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
		return
	}
	h.fail(w, err)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
