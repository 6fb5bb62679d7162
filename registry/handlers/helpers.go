package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aerugo/aerugo/internal/dcontext"
)

// copyFullPayload reads the request body into destWriter, refusing bodies
// larger than limit. It returns an error on a short or oversized body so
// the caller never operates on a truncated payload.
func copyFullPayload(ctx *Context, responseWriter http.ResponseWriter, r *http.Request, destWriter io.Writer, limit int64, action string) error {
	// Get a channel that tells us if the client disconnects
	clientClosed := r.Context().Done()

	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(responseWriter, body, limit)
	}

	// Read in the data, if any.
	copied, err := io.Copy(destWriter, body)
	if clientClosed != nil && (err != nil || (r.ContentLength > 0 && copied < r.ContentLength)) {
		// Didn't receive as much content as expected. Did the client
		// disconnect during the request? If so, avoid returning a 400 error
		// to keep the logs cleaner.
		select {
		case <-clientClosed:
			dcontext.GetLoggerWithFields(ctx, map[any]any{
				"error":         err,
				"copied":        copied,
				"contentLength": r.ContentLength,
			}, "error", "copied", "contentLength").Errorf("client disconnected during %s", action)
			return errors.New("client disconnected")
		default:
		}
	}

	if err != nil {
		dcontext.GetLogger(ctx).Errorf("unknown error reading request payload: %v", err)
		return err
	}

	return nil
}

// pageParams extracts the pagination parameters from the request query,
// returning limit <= 0 when no limit was requested.
func pageParams(r *http.Request) (limit int, last string, err error) {
	q := r.URL.Query()
	last = q.Get("last")

	if ns := q.Get("n"); ns != "" {
		n, perr := strconv.Atoi(ns)
		if perr != nil || n < 0 {
			return 0, "", errors.New("n must be a non-negative integer")
		}
		limit = n
	}

	return limit, last, nil
}

// paginationLink builds the RFC 5988 Link header value pointing at the next
// page of a listing.
func paginationLink(requestURL *url.URL, n int, last string) string {
	values := url.Values{
		"n":    []string{strconv.Itoa(n)},
		"last": []string{last},
	}

	next := *requestURL
	next.RawQuery = values.Encode()
	next.Fragment = ""

	return "<" + next.String() + `>; rel="next"`
}
