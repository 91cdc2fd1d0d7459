package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// helper to build server
func newTestServer(secret string) *GRPCServer {
	return &GRPCServer{
		logger:    nopLogger{},
		jwtSecret: []byte(secret),
	}
}

func incoming(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_PublicMethod_AllowsWithoutToken(t *testing.T) {
	s := newTestServer("secret")

	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodLogin}
	handlerCalled := false

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Fatal("handler was not called")
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
}

func TestInterceptor_Sync_MissingToken(t *testing.T) {
	s := newTestServer("secret")

	for _, method := range []string{rpc.MethodPull, rpc.MethodPush} {
		info := &grpc.UnaryServerInfo{FullMethod: method}

		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Fatal("handler should not be called when token missing")
			return nil, nil
		}

		_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected Unauthenticated, got %v", method, status.Code(err))
		}
		if status.Convert(err).Message() != "missing token" {
			t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
		}
	}
}

func TestInterceptor_Sync_InvalidToken(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodPull}

	_, err := s.accessTokenInterceptor(incoming("not-a-valid-jwt"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != "invalid token" {
		t.Fatalf("expected Unauthenticated invalid token, got %v", err)
	}
}

func TestInterceptor_Sync_ExpiredToken(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodPush}

	tok, _, err := auth.GenerateToken("u1", []byte("secret"), -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = s.accessTokenInterceptor(incoming(tok), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	})
	if status.Convert(err).Message() != "token expired" {
		t.Fatalf("expected token expired, got %v", err)
	}
}

func TestInterceptor_Sync_ValidTokenSetsUser(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodPull}

	tok, _, err := auth.GenerateToken("user-7", []byte("secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	var got string
	_, err = s.accessTokenInterceptor(incoming(tok), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		got, err = userIDFromContext(ctx)
		return nil, err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-7" {
		t.Fatalf("user id = %q", got)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := userIDFromContext(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestRateLimitInterceptor_PerUser(t *testing.T) {
	s := newTestServer("secret")
	s.limiter = newUserLimiter(0.001, 1)
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodPull}
	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	alice := context.WithValue(context.Background(), userIDKey, "alice")
	bob := context.WithValue(context.Background(), userIDKey, "bob")

	if _, err := s.rateLimitInterceptor(alice, nil, info, ok); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := s.rateLimitInterceptor(alice, nil, info, ok); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if _, err := s.rateLimitInterceptor(bob, nil, info, ok); err != nil {
		t.Fatalf("bob has his own bucket: %v", err)
	}
}

func TestRateLimitInterceptor_Disabled(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodGetSalt}
	for i := 0; i < 100; i++ {
		if _, err := s.rateLimitInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
