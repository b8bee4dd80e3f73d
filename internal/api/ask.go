package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/duckask/duckask/internal/llm"
	"github.com/duckask/duckask/internal/pipeline"
	"github.com/duckask/duckask/internal/query"
)

type askRequest struct {
	Question string `json:"question"`
	SQLOnly  bool   `json:"sql_only"`
	Model    string `json:"model"`
}

// askResponse carries Columns and Rows, possibly empty, exactly when a
// query produced a result table.
type askResponse struct {
	Kind           pipeline.Kind `json:"kind"`
	Explanation    string        `json:"explanation,omitempty"`
	SQL            string        `json:"sql,omitempty"`
	Columns        *[]string     `json:"columns,omitempty"`
	Rows           *[][]any      `json:"rows,omitempty"`
	DurationMs     *int64        `json:"duration_ms,omitempty"`
	ExecutionError string        `json:"execution_error,omitempty"`
	RawResponse    string        `json:"raw_response,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	session, ok := deps.Datasets.Get(id)
	if !ok {
		writeDatasetNotFound(w, r, id)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Pipeline.Run(r.Context(), pipeline.Request{
		Question: req.Question,
		Dataset:  session.Dataset,
		SQLOnly:  req.SQLOnly,
		Model:    req.Model,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUESTION", err.Error(), false, nil)
		return
	}

	if result.Kind == pipeline.KindServiceFailed {
		extra := map[string]any{"details": result.Err.Error()}
		var serviceErr *llm.ServiceError
		if errors.As(result.Err, &serviceErr) && serviceErr.Model != "" {
			extra["model"] = serviceErr.Model
			if serviceErr.FallbackModel != "" {
				extra["fallback_model"] = serviceErr.FallbackModel
			}
		}
		writeError(r.Context(), w, http.StatusBadGateway, "MODEL_SERVICE_FAILED", "completion service request failed", true, extra)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeResultCSV(w, r, result)
		return
	}
	writeJSON(w, http.StatusOK, newAskResponse(result))
}

func newAskResponse(result pipeline.Result) askResponse {
	response := askResponse{
		Kind:        result.Kind,
		Explanation: result.Explanation,
		SQL:         result.SQL,
		RawResponse: result.Raw,
	}
	if result.Outcome.Err != nil {
		response.ExecutionError = result.Outcome.Err.Message
	}
	if result.Outcome.Succeeded() {
		table := result.Outcome.Result
		columns := append([]string{}, table.Columns...)
		rows := jsonRows(table.Rows)
		response.Columns = &columns
		response.Rows = &rows
		ms := table.Duration.Milliseconds()
		response.DurationMs = &ms
	}
	return response
}

func writeResultCSV(w http.ResponseWriter, r *http.Request, result pipeline.Result) {
	if !result.Outcome.Succeeded() {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "NO_RESULT_TABLE", "question did not produce a result table", false, map[string]any{"kind": result.Kind})
		return
	}
	var buf bytes.Buffer
	if err := query.WriteCSV(&buf, *result.Outcome.Result); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CSV_ENCODE_FAILED", "failed to encode result", false, map[string]any{"details": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="query_results.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
