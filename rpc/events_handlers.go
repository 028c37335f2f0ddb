package rpc

import (
	"encoding/json"
	"net/http"

	"zkescrow/core"
)

const maxEventsPerPage = 256

type eventsSinceParams struct {
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit,omitempty"`
}

type eventsSinceResult struct {
	Events     []core.FeedEvent `json:"events"`
	NextCursor uint64           `json:"nextCursor"`
}

func (s *Server) handleEventsSince(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params eventsSinceParams
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if params.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "limit must not be negative")
		return
	}
	limit := params.Limit
	if limit == 0 || limit > maxEventsPerPage {
		limit = maxEventsPerPage
	}

	events := s.coordinator.EventsSince(params.Cursor, limit)
	next := params.Cursor
	if len(events) > 0 {
		next = events[len(events)-1].Sequence
	}
	writeResult(w, req.ID, eventsSinceResult{Events: events, NextCursor: next})
}
