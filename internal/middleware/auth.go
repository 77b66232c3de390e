package middleware

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
)

// Authenticator turns a bearer token into an Actor.
type Authenticator struct {
	verifier *auth.TokenVerifier
	// devActor is used for every request when verification is disabled.
	devActor *auth.Actor
	public   map[string]bool
}

// NewAuthenticator verifies tokens with verifier. Paths in public skip
// authentication.
func NewAuthenticator(verifier *auth.TokenVerifier, public ...string) *Authenticator {
	a := &Authenticator{verifier: verifier, public: make(map[string]bool, len(public))}
	for _, p := range public {
		a.public[p] = true
	}
	return a
}

// NewDevAuthenticator treats every caller as actor. Local development only.
func NewDevAuthenticator(actor auth.Actor, public ...string) *Authenticator {
	a := NewAuthenticator(nil, public...)
	a.devActor = &actor
	return a
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (context.Context, error) {
	if a.devActor != nil {
		return auth.WithActor(ctx, *a.devActor), nil
	}

	token := bearerToken(header)
	if token == "" {
		return ctx, errMissingToken
	}
	actor, err := a.verifier.Verify(token)
	if err != nil {
		return ctx, err
	}
	ctx = auth.WithActor(ctx, actor)
	return auth.WithToken(ctx, token), nil
}

type authError string

func (e authError) Error() string { return string(e) }

const errMissingToken = authError("missing bearer token")

// HTTP authenticates requests and stores the Actor in the request context.
func (a *Authenticator) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		ctx, err := a.authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="approval-chains"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","code":"UNAUTHORIZED"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UnaryServerInterceptor authenticates gRPC calls from the "authorization"
// metadata entry.
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a.public[info.FullMethod] {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		ctx, err := a.authenticate(ctx, header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}
