package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

/*************
 * Fake sync API
 *************/

type fakeAPI struct {
	lastRegisterReq *rpc.RegisterRequest
	lastGetSaltReq  *rpc.GetSaltRequest
	lastLoginReq    *rpc.LoginRequest
	lastPullReq     *rpc.PullRequest
	lastPushReq     *rpc.PushRequest

	registerErr error

	getSaltResp *rpc.GetSaltResponse
	getSaltErr  error

	loginResp *rpc.LoginResponse
	loginErr  error

	pullResp *rpc.PullResponse
	pullErr  error

	pushResp *rpc.PushResponse
	pushErr  error

	healthResp *healthpb.HealthCheckResponse
	healthErr  error
}

func (f *fakeAPI) Register(ctx context.Context, in *rpc.RegisterRequest, opts ...grpc.CallOption) (*rpc.RegisterResponse, error) {
	f.lastRegisterReq = in
	return &rpc.RegisterResponse{}, f.registerErr
}
func (f *fakeAPI) GetSalt(ctx context.Context, in *rpc.GetSaltRequest, opts ...grpc.CallOption) (*rpc.GetSaltResponse, error) {
	f.lastGetSaltReq = in
	return f.getSaltResp, f.getSaltErr
}
func (f *fakeAPI) Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error) {
	f.lastLoginReq = in
	return f.loginResp, f.loginErr
}
func (f *fakeAPI) Pull(ctx context.Context, in *rpc.PullRequest, opts ...grpc.CallOption) (*rpc.PullResponse, error) {
	f.lastPullReq = in
	return f.pullResp, f.pullErr
}
func (f *fakeAPI) Push(ctx context.Context, in *rpc.PushRequest, opts ...grpc.CallOption) (*rpc.PushResponse, error) {
	f.lastPushReq = in
	return f.pushResp, f.pushErr
}
func (f *fakeAPI) Check(ctx context.Context, in *healthpb.HealthCheckRequest, opts ...grpc.CallOption) (*healthpb.HealthCheckResponse, error) {
	return f.healthResp, f.healthErr
}

func newTestClient(f *fakeAPI) *GRPCClient {
	return &GRPCClient{api: f, health: f, timeout: time.Second}
}

func loggedIn(f *fakeAPI) *GRPCClient {
	c := newTestClient(f)
	c.SetSession(Session{AccessToken: "tok", UserID: "u1"})
	c.SetDeviceID("dev-1")
	return c
}

/*************
 * accessTokenInterceptor tests
 *************/

func TestInterceptor_AttachesSessionToken(t *testing.T) {
	c := newTestClient(&fakeAPI{})
	c.SetSession(Session{AccessToken: "A1", UserID: "u1"})

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		toks := md.Get(common.AccessTokenHeaderName)
		require.Equal(t, []string{"A1"}, toks)
		return nil
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, "stale")
	require.NoError(t, c.accessTokenInterceptor(ctx, rpc.MethodPull, nil, nil, nil, invoker))
}

func TestInterceptor_NoSessionNoHeader(t *testing.T) {
	c := newTestClient(&fakeAPI{})

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Empty(t, md.Get(common.AccessTokenHeaderName))
		return status.Error(codes.Internal, "boom")
	}
	require.Error(t, c.accessTokenInterceptor(context.Background(), rpc.MethodLogin, nil, nil, nil, invoker))
}

/*************
 * mapError tests
 *************/

func TestMapError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{status.Error(codes.Unauthenticated, "x"), ErrAuth},
		{status.Error(codes.PermissionDenied, "x"), ErrAuth},
		{status.Error(codes.Unavailable, "x"), ErrNetwork},
		{status.Error(codes.DeadlineExceeded, "x"), ErrNetwork},
		{status.Error(codes.ResourceExhausted, "x"), ErrNetwork},
		{status.Error(codes.Internal, "x"), ErrServer},
		{status.Error(codes.Unknown, "x"), ErrServer},
		{status.Error(codes.AlreadyExists, "x"), common.ErrorAlreadyExists},
		{status.Error(codes.NotFound, "x"), common.ErrorNotFound},
		{status.Error(codes.InvalidArgument, "x"), common.ErrorValidation},
		{context.DeadlineExceeded, ErrNetwork},
		{errors.New("plain"), ErrNetwork},
	}
	for _, tt := range tests {
		require.ErrorIs(t, mapError(tt.in), tt.want, "input %v", tt.in)
	}
	require.NoError(t, mapError(nil))
}

/*************
 * Ping tests
 *************/

func TestPing_Serving(t *testing.T) {
	f := &fakeAPI{healthResp: &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}}
	require.NoError(t, newTestClient(f).Ping(context.Background()))
}

func TestPing_NotServing(t *testing.T) {
	f := &fakeAPI{healthResp: &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}}
	require.ErrorIs(t, newTestClient(f).Ping(context.Background()), ErrNetwork)
}

func TestPing_MapsRPCError(t *testing.T) {
	f := &fakeAPI{healthErr: status.Error(codes.Unavailable, "down")}
	require.ErrorIs(t, newTestClient(f).Ping(context.Background()), ErrNetwork)
}

/*************
 * GetSalt / Login / Register tests
 *************/

func TestGetSalt_Success(t *testing.T) {
	f := &fakeAPI{getSaltResp: &rpc.GetSaltResponse{Salt: []byte("salt")}}
	salt, err := newTestClient(f).GetSalt(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("salt"), salt)
	require.Equal(t, "alice", f.lastGetSaltReq.Username)
}

func TestGetSalt_MapsError(t *testing.T) {
	f := &fakeAPI{getSaltErr: status.Error(codes.NotFound, "no user")}
	_, err := newTestClient(f).GetSalt(context.Background(), "bob")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLogin_InstallsSession(t *testing.T) {
	f := &fakeAPI{loginResp: &rpc.LoginResponse{AccessToken: "T", UserID: "u9", ExpiresAt: 1_700_000_000}}
	c := newTestClient(f)

	s, err := c.Login(context.Background(), "alice", []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, "T", s.AccessToken)
	require.Equal(t, "u9", s.UserID)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), s.ExpiresAt)
	require.Equal(t, s, c.currentSession())
	require.Equal(t, []byte{1, 2}, f.lastLoginReq.Verifier)
}

func TestLogin_MapsError(t *testing.T) {
	f := &fakeAPI{loginErr: status.Error(codes.Unauthenticated, "bad")}
	c := newTestClient(f)
	_, err := c.Login(context.Background(), "alice", nil)
	require.ErrorIs(t, err, ErrAuth)
	require.Empty(t, c.currentSession().AccessToken)
}

func TestRegister_MapsError(t *testing.T) {
	f := &fakeAPI{registerErr: status.Error(codes.AlreadyExists, "taken")}
	err := newTestClient(f).Register(context.Background(), "alice", []byte("s"), []byte("v"))
	require.ErrorIs(t, err, common.ErrorAlreadyExists)
	require.Equal(t, []byte("s"), f.lastRegisterReq.Salt)
}

/*************
 * Pull / Push tests
 *************/

func TestPullSince_RequiresSessionOfSameUser(t *testing.T) {
	f := &fakeAPI{}
	_, err := newTestClient(f).PullSince(context.Background(), "u1", "categories", time.Time{})
	require.ErrorIs(t, err, ErrAuth)

	_, err = loggedIn(f).PullSince(context.Background(), "someone-else", "categories", time.Time{})
	require.ErrorIs(t, err, ErrAuth)
	require.Nil(t, f.lastPullReq)
}

func TestPullSince_MapsReqAndResp(t *testing.T) {
	f := &fakeAPI{pullResp: &rpc.PullResponse{
		Records: []rpc.RemoteRecord{
			{RemoteID: "R1", Payload: json.RawMessage(`{"name":"A"}`), UpdatedAt: 150},
			{RemoteID: "R2", UpdatedAt: 160, Deleted: true},
		},
		ServerTime: 160,
	}}
	res, err := loggedIn(f).PullSince(context.Background(), "u1", "categories", time.UnixMicro(100))
	require.NoError(t, err)

	require.Equal(t, "categories", f.lastPullReq.EntityType)
	require.Equal(t, int64(100), f.lastPullReq.Since)
	require.Len(t, res.Records, 2)
	require.Equal(t, "R1", res.Records[0].RemoteID)
	require.True(t, res.Records[0].UpdatedAt.Equal(time.UnixMicro(150)))
	require.True(t, res.Records[1].Deleted)
	require.True(t, res.ServerTime.Equal(time.UnixMicro(160)))
}

func TestPullSince_ZeroCursor(t *testing.T) {
	f := &fakeAPI{pullResp: &rpc.PullResponse{}}
	res, err := loggedIn(f).PullSince(context.Background(), "u1", "categories", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.lastPullReq.Since)
	require.Empty(t, res.Records)
	require.True(t, res.ServerTime.IsZero())
}

func TestPushBatch_MapsReqAndResp(t *testing.T) {
	f := &fakeAPI{pushResp: &rpc.PushResponse{
		Accepted: []rpc.Accepted{{LocalID: 1, RemoteID: "R1", RemoteUpdatedAt: 300}},
		Rejected: []rpc.Rejected{
			{LocalID: 2, Reason: rpc.ReasonConflict},
			{LocalID: 3, Reason: rpc.ReasonConflict, RemoteID: "R9", RemoteUpdatedAt: 250},
		},
	}}
	batch := []models.RawRecord{
		{LocalID: 1, Payload: json.RawMessage(`{"name":"A"}`), UpdatedAt: time.UnixMicro(10), Dirty: true},
		{LocalID: 2, RemoteID: "R2", UpdatedAt: time.UnixMicro(20), RemoteUpdatedAt: time.UnixMicro(5), Dirty: true, Deleted: true},
	}

	res, err := loggedIn(f).PushBatch(context.Background(), "u1", "categories", batch)
	require.NoError(t, err)

	require.Equal(t, "dev-1", f.lastPushReq.DeviceID)
	require.Len(t, f.lastPushReq.Records, 2)
	require.Equal(t, int64(0), f.lastPushReq.Records[0].BaseUpdatedAt)
	require.Equal(t, int64(5), f.lastPushReq.Records[1].BaseUpdatedAt)
	require.True(t, f.lastPushReq.Records[1].Deleted)

	require.Equal(t, []models.Accepted{{LocalID: 1, RemoteID: "R1", RemoteUpdatedAt: time.UnixMicro(300).UTC()}}, res.Accepted)
	require.Equal(t, []models.Rejected{
		{LocalID: 2, Reason: "conflict"},
		{LocalID: 3, Reason: "conflict", RemoteID: "R9", RemoteUpdatedAt: time.UnixMicro(250).UTC()},
	}, res.Rejected)
}

func TestPushBatch_TooLarge(t *testing.T) {
	f := &fakeAPI{}
	batch := make([]models.RawRecord, common.MaxPushBatch+1)
	_, err := loggedIn(f).PushBatch(context.Background(), "u1", "categories", batch)
	require.Error(t, err)
	require.Nil(t, f.lastPushReq)
}

func TestPushBatch_MapsError(t *testing.T) {
	f := &fakeAPI{pushErr: status.Error(codes.Internal, "db down")}
	_, err := loggedIn(f).PushBatch(context.Background(), "u1", "categories", nil)
	require.ErrorIs(t, err, ErrServer)
}

func TestClose_NilConn(t *testing.T) {
	require.NoError(t, newTestClient(&fakeAPI{}).Close())
}
