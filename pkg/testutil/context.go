package testutil

import "net/http"

// WithRequestID sets the X-Request-ID header the request id middleware honours.
func WithRequestID(req *http.Request, id string) *http.Request {
	req.Header.Set("X-Request-ID", id)
	return req
}
