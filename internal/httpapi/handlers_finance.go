package httpapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ppmcore/internal/finance"
)

func (s *Server) handleFinanceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeTrends, _ := strconv.ParseBool(q.Get("include_trends"))

	report, err := s.svc.Finance.ComprehensiveReport(r.Context(),
		q.Get("project_id"), q.Get("currency"), includeTrends)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleProjectBudget(w http.ResponseWriter, r *http.Request) {
	bv, err := s.svc.Finance.ProjectBudgetVariance(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bv)
}

func (s *Server) handleBudgetThresholds(w http.ResponseWriter, r *http.Request) {
	alert, err := s.svc.Finance.CheckBudgetThresholds(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if alert == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"alert": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alert": alert})
}

func (s *Server) handleCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies := finance.SupportedCurrencies()
	sort.Strings(currencies)
	writeJSON(w, http.StatusOK, map[string]interface{}{"currencies": currencies})
}
