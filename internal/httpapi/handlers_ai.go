package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ppmcore/internal/helpchat"
	"ppmcore/internal/types"
)

func (s *Server) handleAIQuery(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Model calls are bounded by the configured AI deadline.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GetAITimeout())
	defer cancel()

	resp, err := s.svc.RAG.Query(ctx, req.Query, id.UserID, req.ConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.svc.RAG.History(r.Context(), chi.URLParam(r, "conversationID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleAIFeedback(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		OperationID  string `json:"operation_id"`
		Rating       int    `json:"rating"`
		FeedbackType string `json:"feedback_type"`
		Text         string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.svc.Feedback.Submit(r.Context(), &types.Feedback{
		OperationID:  req.OperationID,
		UserID:       id.UserID,
		Rating:       req.Rating,
		FeedbackType: req.FeedbackType,
		Text:         req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "recorded"})
}

func (s *Server) handleAIPerformance(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	perf, err := s.svc.Feedback.Performance(r.Context(), r.URL.Query().Get("operation_type"), days)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.svc.Feedback.Summary(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":   perf,
		"feedback": summary,
	})
}

func (s *Server) handleCreateABTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelA        string  `json:"model_a"`
		ModelB        string  `json:"model_b"`
		OperationType string  `json:"operation_type"`
		TrafficSplit  float64 `json:"traffic_split"`
		DurationHours int     `json:"duration_hours"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	test := &types.ABTest{
		ID:            uuid.NewString(),
		ModelA:        req.ModelA,
		ModelB:        req.ModelB,
		OperationType: req.OperationType,
		TrafficSplit:  req.TrafficSplit,
		Duration:      time.Duration(req.DurationHours) * time.Hour,
	}
	if err := s.svc.ABTests.Create(r.Context(), test); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, test)
}

func (s *Server) handleStartABTest(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ABTests.Start(r.Context(), chi.URLParam(r, "testID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "active"})
}

func (s *Server) handleCompleteABTest(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ABTests.Complete(r.Context(), chi.URLParam(r, "testID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "completed"})
}

func (s *Server) handleABTestResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.ABTests.Results(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleHelpAsk(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		Query    string `json:"query"`
		Context  string `json:"context"`
		Language string `json:"language"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GetAITimeout())
	defer cancel()

	resp, err := s.svc.Help.Ask(ctx, helpRequest(id.UserID, req.Query, req.Context, req.Language))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHelpFeedback(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		OperationID string `json:"operation_id"`
		Rating      int    `json:"rating"`
		Text        string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.svc.Help.Feedback(r.Context(), &types.Feedback{
		OperationID:  req.OperationID,
		UserID:       id.UserID,
		Rating:       req.Rating,
		FeedbackType: "help",
		Text:         req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "recorded"})
}

func (s *Server) handleTips(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	q := r.URL.Query()

	behavior := helpBehavior(q)
	tips, err := s.svc.Help.TipsFor(r.Context(), id.UserID, q.Get("route"), q.Get("role"), behavior)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tips": tips})
}

func helpRequest(userID, query, pageRoute, language string) helpchat.Request {
	return helpchat.Request{
		Query:     query,
		UserID:    userID,
		PageRoute: pageRoute,
		Language:  language,
	}
}

func helpBehavior(q url.Values) helpchat.Behavior {
	sessions, _ := strconv.Atoi(q.Get("session_count"))
	queries, _ := strconv.Atoi(q.Get("queries_this_week"))
	imported, _ := strconv.ParseBool(q.Get("has_imported"))
	alerts, _ := strconv.ParseBool(q.Get("has_open_alerts"))
	return helpchat.Behavior{
		SessionCount:    sessions,
		QueriesThisWeek: queries,
		HasImported:     imported,
		HasOpenAlerts:   alerts,
	}
}

func (s *Server) handleDismissTip(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if err := s.svc.Help.DismissTip(r.Context(), id.UserID, chi.URLParam(r, "tipID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "dismissed"})
}
