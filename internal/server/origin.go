package server

import "net/http"

// OriginChecker restricts websocket handshakes to a set of allowed origins.
// An empty list allows every origin, which is what local development and
// same-origin deployments behind a proxy want.
type OriginChecker struct {
	allowed map[string]struct{}
}

func NewOriginChecker(origins []string) *OriginChecker {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[origin] = struct{}{}
	}

	return &OriginChecker{
		allowed: allowed,
	}
}

func (c *OriginChecker) Check(r *http.Request) bool {
	if len(c.allowed) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	_, ok := c.allowed[origin]

	return ok
}
