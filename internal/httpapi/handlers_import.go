package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ppmcore/internal/apperr"
	"ppmcore/internal/importer"
	"ppmcore/internal/types"
)

// handleImportUpload ingests a multipart upload of actuals or commitments.
// Form fields: file (required), format (csv/json/jsonl), anonymize (bool),
// mapping (optional JSON object of canonical field → source column).
func (s *Server) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	importType := types.ImportType(chi.URLParam(r, "importType"))
	if importType != types.ImportActuals && importType != types.ImportCommitments {
		writeError(w, apperr.Validation("import_type", "import type must be actuals or commitments"))
		return
	}

	if err := r.ParseMultipartForm(s.maxBytes); err != nil {
		writeError(w, apperr.Validation("file", "invalid multipart upload"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("file", "file field is required"))
		return
	}
	defer file.Close()

	format := importer.Format(r.FormValue("format"))
	if format == "" {
		format = importer.FormatCSV
	}
	anonymize, _ := strconv.ParseBool(r.FormValue("anonymize"))

	var mapping map[string]string
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			writeError(w, apperr.Validation("mapping", "mapping must be a json object"))
			return
		}
	}

	rows, err := importer.ParseFile(file, format, importType, mapping, s.maxBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	// Bulk imports run under the configured deadline, not the bare request
	// context.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GetImportTimeout())
	defer cancel()

	opts := importer.Options{UserID: id.UserID, Anonymize: anonymize}
	var result *types.ImportResult
	if importType == types.ImportActuals {
		result, err = s.svc.Importer.ImportActuals(ctx, rows, opts)
	} else {
		result, err = s.svc.Importer.ImportCommitments(ctx, rows, opts)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.svc.Audit.ImportHistory(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imports": entries})
}

func (s *Server) handleImportStatistics(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	stats, err := s.svc.Audit.Statistics(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSuggestMappings proposes a column mapping from uploaded headers.
func (s *Server) handleSuggestMappings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImportType string   `json:"import_type"`
		Headers    []string `json:"headers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	importType := types.ImportType(req.ImportType)
	if importType != types.ImportActuals && importType != types.ImportCommitments {
		writeError(w, apperr.Validation("import_type", "import type must be actuals or commitments"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mapping": importer.SuggestMappings(req.Headers, importType),
		"default": importer.DefaultMapping(importType),
	})
}
