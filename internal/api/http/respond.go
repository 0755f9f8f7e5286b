package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxRequestBody = 1 << 20

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "invalid_request", message)
}

// writeItems always encodes a JSON array, never null.
func writeItems[T any](w http.ResponseWriter, items []T, extra map[string]any) {
	if items == nil {
		items = []T{}
	}
	payload := map[string]any{"items": items}
	for key, value := range extra {
		payload[key] = value
	}
	writeJSON(w, http.StatusOK, payload)
}

// readJSON decodes a JSON request body into dest. An empty body leaves dest
// untouched; unknown fields are rejected so UI typos surface early.
func readJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		default:
			return fmt.Errorf("invalid json body: %w", err)
		}
	}
	return nil
}

// searchText trims a user query and enforces its length in runes, since most
// queries are CJK.
func searchText(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	switch {
	case query == "":
		return "", errors.New("query is required")
	case utf8.RuneCountInString(query) > maxQueryLength:
		return "", fmt.Errorf("query too long (max %d characters)", maxQueryLength)
	}
	return query, nil
}

func queryLimit(r *http.Request, fallback, ceiling int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(limit, ceiling), nil
}

func queryFlag(values ...string) bool {
	for _, raw := range values {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}
