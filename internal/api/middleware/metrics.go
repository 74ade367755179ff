package middleware

import (
	"net/http"
	"sync/atomic"
)

// Counters is the request bookkeeping shared with the /metrics handler.
type Counters struct {
	Requests     atomic.Int64
	ClientErrors atomic.Int64
	ServerErrors atomic.Int64
	InFlight     atomic.Int64
}

// Errors is the number of 4xx and 5xx responses served.
func (c *Counters) Errors() int64 {
	return c.ClientErrors.Load() + c.ServerErrors.Load()
}

// Metrics returns middleware that counts requests by outcome.
func Metrics(c *Counters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Requests.Add(1)
			c.InFlight.Add(1)
			defer c.InFlight.Add(-1)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			switch {
			case rw.statusCode >= 500:
				c.ServerErrors.Add(1)
			case rw.statusCode >= 400:
				c.ClientErrors.Add(1)
			}
		})
	}
}
