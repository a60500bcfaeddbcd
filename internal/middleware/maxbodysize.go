package middleware

import (
	"fmt"
	"net/http"
)

// tooLargeBody matches the API's {"error":{"code","message"}} shape.
const tooLargeBody = `{"error":{"code":"request_too_large","message":"request body exceeds %d bytes"}}` + "\n"

// NewMaxBodySizeHandler limits request bodies to limit bytes. A request that
// declares a larger Content-Length is rejected with 413 without reading the
// body. Otherwise the body is wrapped in http.MaxBytesReader so a streaming
// body fails once it crosses the limit. A limit <= 0 disables the check.
func NewMaxBodySizeHandler(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				fmt.Fprintf(w, tooLargeBody, limit)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
