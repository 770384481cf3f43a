package apihttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"playerhub/internal/services/cache/loader"
	"playerhub/internal/services/cache/proxy"
)

// handleStream serves a byte range of a marked source through the proxy.
// Every response is backed by one read request that is removed from its
// loader when the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.proxy == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "cache proxy not configured")
		return
	}
	src := strings.TrimSpace(r.URL.Query().Get("src"))
	if !proxy.ShouldHandle(src) {
		writeError(w, http.StatusBadRequest, "invalid_request", "src must be a cache+http(s) url")
		return
	}

	ctx := r.Context()
	info, err := s.proxy.ContentInfo(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeDomainError(w, err)
		return
	}

	size := info.TotalLength
	w.Header().Set("Accept-Ranges", "bytes")

	br := byteRange{start: 0, length: 0}
	if info.KnownLength() {
		br.length = size
	}
	partial := false
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		br, err = parseByteRange(rangeHeader, size)
		if errors.Is(err, errInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		if errors.Is(err, errRangeNotSatisfiable) {
			if info.KnownLength() {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			}
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		partial = true
		if br.length == 0 {
			// An open range of unknown length has no valid Content-Range.
			// Ignore the Range header and send the whole body.
			br = byteRange{}
			partial = false
		}
	}

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}
	writeHeader := func() {
		h := w.Header()
		contentType := info.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		if partial {
			total := "*"
			if info.KnownLength() {
				total = strconv.FormatInt(size, 10)
			}
			h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", br.start, br.start+br.length-1, total))
		}
		if br.length > 0 {
			h.Set("Content-Length", strconv.FormatInt(br.length, 10))
		}
		w.WriteHeader(status)
	}

	if r.Method == http.MethodHead || (info.KnownLength() && size == 0) {
		writeHeader()
		return
	}

	req := loader.NewRequest(br.start, br.length)
	if err := s.proxy.OnRequest(src, req); err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.proxy.OnCancel(src, req)

	rc := http.NewResponseController(w)
	wroteHeader := false
	for {
		d, err := req.Next(ctx)
		if err != nil {
			// Client gone, or the loader was torn down under us.
			if !wroteHeader && ctx.Err() == nil {
				writeDomainError(w, err)
			}
			return
		}
		switch d.Kind {
		case loader.DeliveryData:
			if !wroteHeader {
				writeHeader()
				wroteHeader = true
			}
			if _, err := w.Write(d.Data); err != nil {
				s.logger.Debug("stream write interrupted",
					slog.String("source", src),
					slog.Int64("offset", d.Offset),
					slog.String("error", err.Error()),
				)
				return
			}
			_ = rc.Flush()
		case loader.DeliveryDone:
			if !wroteHeader {
				writeHeader()
			}
			return
		case loader.DeliveryError:
			if !wroteHeader {
				writeDomainError(w, d.Err)
				return
			}
			s.logger.Warn("stream aborted",
				slog.String("source", src),
				slog.Int64("offset", req.Current()),
				slog.String("error", d.Err.Error()),
			)
			return
		}
	}
}
