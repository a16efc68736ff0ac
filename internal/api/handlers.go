package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/example/crypto-gateway/internal/engine"
	"github.com/example/crypto-gateway/internal/ledger"
	"github.com/example/crypto-gateway/internal/pipeline"
	"github.com/example/crypto-gateway/internal/security"
	"github.com/example/crypto-gateway/internal/txn"
)

type listTransactionsResponse struct {
	CorrelationID string           `json:"correlation_id"`
	UserID        string           `json:"user_id"`
	Transactions  []*ledger.Record `json:"transactions"`
}

func handleProcessTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Nothing past this point may take down the channel: any
		// unexpected failure becomes a generic declined reply.
		defer func() {
			if rec := recover(); rec != nil {
				deps.Logger.Error("panic while processing transaction", "panic", rec)
				writeJSON(w, r, http.StatusOK, pipeline.Response{
					Status:       "declined",
					ResponseCode: engine.CodeMalformed,
					Message:      "Internal processing error.",
				})
			}
		}()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				security.WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		resp := deps.Processor.ProcessJSON(r.Context(), body, r.Header.Get(UserIDHeader))
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleListTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		userID := r.Header.Get(UserIDHeader)
		if v := r.URL.Query().Get("userId"); v != "" {
			userID = v
		}
		if userID == "" {
			userID = txn.DefaultUserID
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				limit = i
			}
		}

		records, err := deps.History.ListByUser(r.Context(), userID, limit)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, listTransactionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			UserID:        userID,
			Transactions:  records,
		})
	}
}

func handleMetrics(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Metrics == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "metrics_unavailable")
			return
		}
		writeJSON(w, r, http.StatusOK, deps.Metrics.Snapshot())
	}
}
