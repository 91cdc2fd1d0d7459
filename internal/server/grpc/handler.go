package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC status codes. Internal details are
// logged, never sent.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	s.logger.Error(ctx, "request failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {

	s.logger.Info(ctx, "Registration request")

	result, err := s.users.Register(ctx, req.Username, req.Salt, req.Verifier)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "user_id", result.ID)
	return &rpc.RegisterResponse{}, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *rpc.GetSaltRequest) (*rpc.GetSaltResponse, error) {

	result, err := s.users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &rpc.GetSaltResponse{Salt: result}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {

	sess, err := s.users.Login(ctx, req.Username, req.Verifier)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &rpc.LoginResponse{AccessToken: sess.AccessToken, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt.Unix()}, nil
}

func (s *GRPCServer) Pull(ctx context.Context, req *rpc.PullRequest) (*rpc.PullResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := s.sync.Pull(ctx, userID, req.EntityType, req.Since)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &rpc.PullResponse{Records: make([]rpc.RemoteRecord, 0, len(batch.Records)), ServerTime: batch.ServerTime}
	for _, r := range batch.Records {
		resp.Records = append(resp.Records, rpc.RemoteRecord{
			RemoteID:  r.ID,
			Payload:   r.Payload,
			UpdatedAt: r.UpdatedAt,
			Deleted:   r.Deleted,
		})
	}
	return resp, nil
}

func (s *GRPCServer) Push(ctx context.Context, req *rpc.PushRequest) (*rpc.PushResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]models.PushItem, 0, len(req.Records))
	for _, r := range req.Records {
		items = append(items, models.PushItem{
			LocalID:       r.LocalID,
			RemoteID:      r.RemoteID,
			Payload:       r.Payload,
			BaseUpdatedAt: r.BaseUpdatedAt,
			Deleted:       r.Deleted,
		})
	}

	out, err := s.sync.Push(ctx, userID, req.DeviceID, req.EntityType, items)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &rpc.PushResponse{
		Accepted: make([]rpc.Accepted, 0, len(out.Accepted)),
		Rejected: make([]rpc.Rejected, 0, len(out.Rejected)),
	}
	for _, a := range out.Accepted {
		resp.Accepted = append(resp.Accepted, rpc.Accepted{LocalID: a.LocalID, RemoteID: a.RemoteID, RemoteUpdatedAt: a.UpdatedAt})
	}
	for _, r := range out.Rejected {
		resp.Rejected = append(resp.Rejected, rpc.Rejected{
			LocalID:         r.LocalID,
			Reason:          r.Reason,
			RemoteID:        r.RemoteID,
			RemoteUpdatedAt: r.UpdatedAt,
		})
	}
	return resp, nil
}
