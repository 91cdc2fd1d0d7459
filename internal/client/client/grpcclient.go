package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const DefaultTimeout = 10 * time.Second

// syncAPI is the subset of rpc.SyncServiceClient used here; tests fake it.
type syncAPI interface {
	Register(ctx context.Context, in *rpc.RegisterRequest, opts ...grpc.CallOption) (*rpc.RegisterResponse, error)
	GetSalt(ctx context.Context, in *rpc.GetSaltRequest, opts ...grpc.CallOption) (*rpc.GetSaltResponse, error)
	Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error)
	Pull(ctx context.Context, in *rpc.PullRequest, opts ...grpc.CallOption) (*rpc.PullResponse, error)
	Push(ctx context.Context, in *rpc.PushRequest, opts ...grpc.CallOption) (*rpc.PushResponse, error)
}

type healthAPI interface {
	Check(ctx context.Context, in *healthpb.HealthCheckRequest, opts ...grpc.CallOption) (*healthpb.HealthCheckResponse, error)
}

type GRPCClient struct {
	endpointURL string
	timeout     time.Duration
	dialOpts    []grpc.DialOption

	conn   *grpc.ClientConn
	api    syncAPI
	health healthAPI

	mu       sync.RWMutex
	session  Session
	deviceID string
}

type Option func(*GRPCClient)

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) Option {
	return func(c *GRPCClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialOptions adds dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

func NewGRPCClient(endpointURL string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if err := c.initGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GRPCClient) initGRPCClient() error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(c.endpointURL, opts...)
	if err != nil {
		return err
	}
	c.conn = conn
	c.api = rpc.NewSyncServiceClient(conn)
	c.health = healthpb.NewHealthClient(conn)
	return nil
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if token := c.currentSession().AccessToken; token != "" {
		ctx = withAccessToken(ctx, token)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (c *GRPCClient) currentSession() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *GRPCClient) SetSession(s Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *GRPCClient) SetDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

func (c *GRPCClient) Register(ctx context.Context, username string, salt []byte, verifier []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Register(ctx, &rpc.RegisterRequest{Username: username, Salt: salt, Verifier: verifier})
	return mapError(err)
}

func (c *GRPCClient) GetSalt(ctx context.Context, username string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.GetSalt(ctx, &rpc.GetSaltRequest{Username: username})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Salt, nil
}

func (c *GRPCClient) Login(ctx context.Context, username string, verifier []byte) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Login(ctx, &rpc.LoginRequest{Username: username, Verifier: verifier})
	if err != nil {
		return Session{}, mapError(err)
	}

	s := Session{AccessToken: resp.AccessToken, UserID: resp.UserID, ExpiresAt: time.Unix(resp.ExpiresAt, 0).UTC()}
	c.SetSession(s)
	return s, nil
}

// Ping asks the standard health service whether the sync service is serving.
func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		return mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: service status %s", ErrNetwork, resp.GetStatus())
	}
	return nil
}

// checkUser refuses to act for a user other than the session owner.
func (c *GRPCClient) checkUser(userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.AccessToken == "" {
		return "", fmt.Errorf("%w: no session", ErrAuth)
	}
	if c.session.UserID != userID {
		return "", fmt.Errorf("%w: session belongs to another user", ErrAuth)
	}
	return c.deviceID, nil
}

func (c *GRPCClient) PullSince(ctx context.Context, userID, entityType string, cursor time.Time) (models.PullResult, error) {
	if _, err := c.checkUser(userID); err != nil {
		return models.PullResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Pull(ctx, &rpc.PullRequest{EntityType: entityType, Since: timex.Micros(cursor)})
	if err != nil {
		return models.PullResult{}, mapError(err)
	}

	result := models.PullResult{
		Records:    make([]models.RemoteRecord, 0, len(resp.Records)),
		ServerTime: timex.FromMicros(resp.ServerTime),
	}
	for _, r := range resp.Records {
		result.Records = append(result.Records, models.RemoteRecord{
			RemoteID:  r.RemoteID,
			Payload:   r.Payload,
			UpdatedAt: timex.FromMicros(r.UpdatedAt),
			Deleted:   r.Deleted,
		})
	}
	return result, nil
}

func (c *GRPCClient) PushBatch(ctx context.Context, userID, entityType string, batch []models.RawRecord) (models.PushResult, error) {
	if len(batch) > common.MaxPushBatch {
		return models.PushResult{}, fmt.Errorf("push batch of %d exceeds limit %d", len(batch), common.MaxPushBatch)
	}
	deviceID, err := c.checkUser(userID)
	if err != nil {
		return models.PushResult{}, err
	}

	req := &rpc.PushRequest{EntityType: entityType, DeviceID: deviceID, Records: make([]rpc.PushRecord, 0, len(batch))}
	for _, r := range batch {
		req.Records = append(req.Records, rpc.PushRecord{
			LocalID:       r.LocalID,
			RemoteID:      r.RemoteID,
			Payload:       r.Payload,
			UpdatedAt:     timex.Micros(r.UpdatedAt),
			BaseUpdatedAt: timex.Micros(r.RemoteUpdatedAt),
			Deleted:       r.Deleted,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Push(ctx, req)
	if err != nil {
		return models.PushResult{}, mapError(err)
	}

	var result models.PushResult
	for _, a := range resp.Accepted {
		result.Accepted = append(result.Accepted, models.Accepted{
			LocalID:         a.LocalID,
			RemoteID:        a.RemoteID,
			RemoteUpdatedAt: timex.FromMicros(a.RemoteUpdatedAt),
		})
	}
	for _, r := range resp.Rejected {
		result.Rejected = append(result.Rejected, models.Rejected{
			LocalID:         r.LocalID,
			Reason:          r.Reason,
			RemoteID:        r.RemoteID,
			RemoteUpdatedAt: timex.FromMicros(r.RemoteUpdatedAt),
		})
	}
	return result, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrAuth, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", ErrNetwork, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrorValidation, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", ErrServer, st.Code(), st.Message())
	}
}
