// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package exthostv1 defines the exthost.v1.ExtensionHost gRPC service spoken
// between the orchestrator and a node host process. Every request and
// response is a google.protobuf.Struct carrying one of the payload types in
// this package.
package exthostv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "exthost.v1.ExtensionHost"

// Full method names.
const (
	ExtensionHost_UpdateExtensionData_FullMethodName  = "/" + ServiceName + "/UpdateExtensionData"
	ExtensionHost_ActivateExtension_FullMethodName    = "/" + ServiceName + "/ActivateExtension"
	ExtensionHost_ExecuteCommand_FullMethodName       = "/" + ServiceName + "/ExecuteCommand"
	ExtensionHost_ActivatedExtensions_FullMethodName  = "/" + ServiceName + "/ActivatedExtensions"
	ExtensionHost_WillRunFileOperation_FullMethodName = "/" + ServiceName + "/WillRunFileOperation"
)

// ExtensionHostClient is the client API for the ExtensionHost service.
type ExtensionHostClient interface {
	UpdateExtensionData(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ActivateExtension(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ExecuteCommand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ActivatedExtensions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	WillRunFileOperation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type extensionHostClient struct {
	cc grpc.ClientConnInterface
}

// NewExtensionHostClient creates a client on cc.
func NewExtensionHostClient(cc grpc.ClientConnInterface) ExtensionHostClient {
	return &extensionHostClient{cc: cc}
}

func (c *extensionHostClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extensionHostClient) UpdateExtensionData(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtensionHost_UpdateExtensionData_FullMethodName, in, opts)
}

func (c *extensionHostClient) ActivateExtension(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtensionHost_ActivateExtension_FullMethodName, in, opts)
}

func (c *extensionHostClient) ExecuteCommand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtensionHost_ExecuteCommand_FullMethodName, in, opts)
}

func (c *extensionHostClient) ActivatedExtensions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtensionHost_ActivatedExtensions_FullMethodName, in, opts)
}

func (c *extensionHostClient) WillRunFileOperation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtensionHost_WillRunFileOperation_FullMethodName, in, opts)
}

// ExtensionHostServer is the server API for the ExtensionHost service.
type ExtensionHostServer interface {
	UpdateExtensionData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActivateExtension(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActivatedExtensions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WillRunFileOperation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedExtensionHostServer returns Unimplemented for every method.
// Embed it for forward compatibility.
type UnimplementedExtensionHostServer struct{}

func (UnimplementedExtensionHostServer) UpdateExtensionData(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateExtensionData not implemented")
}

func (UnimplementedExtensionHostServer) ActivateExtension(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ActivateExtension not implemented")
}

func (UnimplementedExtensionHostServer) ExecuteCommand(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ExecuteCommand not implemented")
}

func (UnimplementedExtensionHostServer) ActivatedExtensions(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ActivatedExtensions not implemented")
}

func (UnimplementedExtensionHostServer) WillRunFileOperation(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method WillRunFileOperation not implemented")
}

// RegisterExtensionHostServer registers srv on s.
func RegisterExtensionHostServer(s grpc.ServiceRegistrar, srv ExtensionHostServer) {
	s.RegisterService(&ExtensionHost_ServiceDesc, srv)
}

type serverMethod func(ExtensionHostServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call serverMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExtensionHostServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExtensionHostServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ExtensionHost_ServiceDesc is the grpc.ServiceDesc for the ExtensionHost service.
var ExtensionHost_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtensionHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "UpdateExtensionData",
			Handler:    unaryHandler(ExtensionHost_UpdateExtensionData_FullMethodName, ExtensionHostServer.UpdateExtensionData),
		},
		{
			MethodName: "ActivateExtension",
			Handler:    unaryHandler(ExtensionHost_ActivateExtension_FullMethodName, ExtensionHostServer.ActivateExtension),
		},
		{
			MethodName: "ExecuteCommand",
			Handler:    unaryHandler(ExtensionHost_ExecuteCommand_FullMethodName, ExtensionHostServer.ExecuteCommand),
		},
		{
			MethodName: "ActivatedExtensions",
			Handler:    unaryHandler(ExtensionHost_ActivatedExtensions_FullMethodName, ExtensionHostServer.ActivatedExtensions),
		},
		{
			MethodName: "WillRunFileOperation",
			Handler:    unaryHandler(ExtensionHost_WillRunFileOperation_FullMethodName, ExtensionHostServer.WillRunFileOperation),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "exthost/v1/exthost.proto",
}
