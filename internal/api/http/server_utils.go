package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"playerhub/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnsupportedSource):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNetworkFailure):
		writeError(w, http.StatusBadGateway, "origin_error", err.Error())
	case errors.Is(err, domain.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, domain.ErrEngine):
		writeError(w, http.StatusConflict, "engine_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

const maxJSONBody = 64 << 10

// decodeJSON reads a JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parsePositiveInt(value string, requirePositive bool) (int, error) {
	if strings.TrimSpace(value) == "" {
		return -1, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if requirePositive && parsed <= 0 {
		return 0, errors.New("must be > 0")
	}
	if !requirePositive && parsed < 0 {
		return 0, errors.New("must be >= 0")
	}
	return parsed, nil
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// byteRange is a parsed Range header. A zero length with an unknown size
// means "to the end of the resource".
type byteRange struct {
	start  int64
	length int64
}

// parseByteRange parses a single-range "bytes=" header against a resource
// of the given size. size < 0 means the size is unknown, in which case
// suffix ranges cannot be resolved.
func parseByteRange(value string, size int64) (byteRange, error) {
	if size == 0 {
		return byteRange{}, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return byteRange{}, errInvalidRange
	}

	set := strings.TrimSpace(value[len("bytes="):])
	if set == "" || strings.Contains(set, ",") {
		return byteRange{}, errInvalidRange
	}

	parts := strings.SplitN(set, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, errInvalidRange
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		if endStr == "" {
			return byteRange{}, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return byteRange{}, errInvalidRange
		}
		if size < 0 {
			return byteRange{}, errRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return byteRange{start: size - suffix, length: suffix}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errInvalidRange
	}
	if size > 0 && start >= size {
		return byteRange{}, errRangeNotSatisfiable
	}

	if endStr == "" {
		if size < 0 {
			return byteRange{start: start}, nil
		}
		return byteRange{start: start, length: size - start}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return byteRange{}, errInvalidRange
	}
	if end < start {
		return byteRange{}, errInvalidRange
	}
	if size > 0 && end >= size {
		end = size - 1
	}
	return byteRange{start: start, length: end - start + 1}, nil
}
