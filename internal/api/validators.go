package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var validActions = map[string]bool{
	"play": true, "pause": true, "seek": true,
	"toggle": true, "isolate": true,
	"top": true, "all": true, "none": true,
}

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseBeforeID parses and validates a cursor-based pagination parameter
func parseBeforeID(r *http.Request) *int64 {
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseInt(b, 10, 64); err == nil && parsed > 0 {
			return &parsed
		}
	}
	return nil
}

// parseIndex parses the scrubber position. Out of range values are left for
// the engine to clamp.
func parseIndex(r *http.Request) (int, bool, error) {
	return parseIntParam(r, "index")
}

// parseTop parses the top-N selection size
func parseTop(r *http.Request) (int, bool, error) {
	return parseIntParam(r, "top")
}

func parseIntParam(r *http.Request, name string) (int, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return parsed, true, nil
}

// parsePlayers parses a comma separated player list. Returns nil when the
// parameter is absent and an empty slice when it is present but empty.
func parsePlayers(r *http.Request) []string {
	q := r.URL.Query()
	if !q.Has("players") {
		return nil
	}
	players := []string{}
	for _, p := range strings.Split(q.Get("players"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			players = append(players, p)
		}
	}
	return players
}

// parseRoundFilter parses the rounds a dashboard connection follows. Returns
// nil when the parameter is absent, meaning every round.
func parseRoundFilter(r *http.Request) (map[int64]bool, error) {
	v := r.URL.Query().Get("rounds")
	if v == "" {
		return nil, nil
	}
	rounds := make(map[int64]bool)
	for _, part := range strings.Split(v, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid round id %q", part)
		}
		rounds[id] = true
	}
	return rounds, nil
}

// validateAction checks if a replay session action is known
func validateAction(action string) bool {
	return validActions[action]
}
