package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/replay"
	"github.com/ernie/trinity-replay/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps storage errors onto HTTP statuses
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrRoundNotFound) {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// newEngine builds a replay engine for data, logging any telemetry the
// combat log had to skip
func (r *Router) newEngine(data *domain.RoundData) *replay.Engine {
	eng := replay.New(data, r.replayOpts)
	anomalies := eng.Anomalies()
	for _, a := range anomalies {
		log.Printf("Warning: round %d: %s", data.ID, a)
	}
	r.metrics.Anomalies.Add(float64(len(anomalies)))
	return eng
}

// handleGetRounds returns recent rounds, newest first
func (r *Router) handleGetRounds(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	rounds, err := r.store.ListRounds(req.Context(), limit, parseBeforeID(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// handleGetRound returns a single round header
func (r *Router) handleGetRound(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	round, err := r.store.GetRound(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// handleGetRoundData returns the raw per-player telemetry for a round
func (r *Router) handleGetRoundData(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	data, err := r.store.GetRoundData(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleGetReplay returns the replay view of a round at one scrubber
// position. Optional query parameters: index, top, players.
func (r *Router) handleGetReplay(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	index, hasIndex, err := parseIndex(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	top, hasTop, err := parseTop(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid top")
		return
	}

	data, err := r.store.GetRoundData(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	eng := r.newEngine(data)
	defer eng.Close()

	if players := parsePlayers(req); players != nil {
		eng.SelectPlayers(players)
	} else if hasTop {
		eng.SelectTopN(top)
	}
	if hasIndex {
		eng.Seek(index)
	}
	writeJSON(w, http.StatusOK, eng.View())
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
