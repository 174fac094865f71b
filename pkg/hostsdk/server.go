// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostsdk

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/exthost/internal/exthost"
	exthostv1 "github.com/holomush/exthost/internal/proto/exthost/v1"
)

// server adapts an exthost.Proxy to exthostv1.ExtensionHostServer.
type server struct {
	exthostv1.UnimplementedExtensionHostServer
	host exthost.Proxy
}

// NewServer wraps host as a gRPC ExtensionHost server.
func NewServer(host exthost.Proxy) exthostv1.ExtensionHostServer {
	return &server{host: host}
}

func decode(in *structpb.Struct, out any) error {
	if err := exthostv1.Decode(in, out); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	s, err := exthostv1.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// UpdateExtensionData implements exthostv1.ExtensionHostServer.
func (s *server) UpdateExtensionData(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req exthostv1.UpdateExtensionDataRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.host.UpdateExtensionData(ctx, req.Extensions); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return exthostv1.Empty(), nil
}

// ActivateExtension implements exthostv1.ExtensionHostServer.
func (s *server) ActivateExtension(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req exthostv1.ActivateExtensionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.host.ActivateExtension(ctx, req.Extension)
	if err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}
	return encode(exthostv1.ActivateExtensionResponse{Commands: res.Commands})
}

// ExecuteCommand implements exthostv1.ExtensionHostServer.
func (s *server) ExecuteCommand(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req exthostv1.ExecuteCommandRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	result, err := s.host.ExecuteCommand(ctx, req.Command, req.Args)
	if err != nil {
		return nil, status.Error(codes.Unknown, err.Error())
	}
	return encode(exthostv1.ExecuteCommandResponse{Result: result})
}

// ActivatedExtensions implements exthostv1.ExtensionHostServer.
func (s *server) ActivatedExtensions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ids, err := s.host.ActivatedExtensions(ctx)
	if err != nil {
		return nil, status.Error(codes.Unknown, err.Error())
	}
	return encode(exthostv1.ActivatedExtensionsResponse{Extensions: ids})
}

// WillRunFileOperation implements exthostv1.ExtensionHostServer.
func (s *server) WillRunFileOperation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req exthostv1.WillRunFileOperationRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	edits, err := s.host.WillRunFileOperation(ctx, req.Operation, req.Files)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return encode(exthostv1.WillRunFileOperationResponse{Edits: edits})
}
