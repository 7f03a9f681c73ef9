package testutil

import (
	"net/http"
	"time"

	"tiergate/pkg/requestcontext"
)

// WithActor adds an admin actor to the request context, as the auth
// middleware does after validating a token.
func WithActor(req *http.Request, actorID string) *http.Request {
	return req.WithContext(requestcontext.WithActorID(req.Context(), actorID))
}

// WithRequestTime pins the request's clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
