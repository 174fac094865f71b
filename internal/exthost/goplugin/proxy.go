// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
	exthostv1 "github.com/holomush/exthost/internal/proto/exthost/v1"
)

// proxy implements exthost.Proxy over the ExtensionHost gRPC client.
type proxy struct {
	client exthostv1.ExtensionHostClient
}

func rpcError(method string, err error) error {
	return oops.In("goplugin").With("method", method).Wrap(err)
}

func (p *proxy) UpdateExtensionData(ctx context.Context, exts []extension.Info) error {
	in, err := exthostv1.Encode(exthostv1.UpdateExtensionDataRequest{Extensions: exts})
	if err != nil {
		return rpcError("UpdateExtensionData", err)
	}
	if _, err := p.client.UpdateExtensionData(ctx, in); err != nil {
		return rpcError("UpdateExtensionData", err)
	}
	return nil
}

func (p *proxy) ActivateExtension(ctx context.Context, ext extension.Info) (exthost.ActivateResult, error) {
	in, err := exthostv1.Encode(exthostv1.ActivateExtensionRequest{Extension: ext})
	if err != nil {
		return exthost.ActivateResult{}, rpcError("ActivateExtension", err)
	}
	out, err := p.client.ActivateExtension(ctx, in)
	if err != nil {
		return exthost.ActivateResult{}, rpcError("ActivateExtension", err)
	}
	var res exthostv1.ActivateExtensionResponse
	if err := exthostv1.Decode(out, &res); err != nil {
		return exthost.ActivateResult{}, rpcError("ActivateExtension", err)
	}
	return exthost.ActivateResult{Commands: res.Commands}, nil
}

func (p *proxy) ExecuteCommand(ctx context.Context, id string, args []any) (any, error) {
	in, err := exthostv1.Encode(exthostv1.ExecuteCommandRequest{Command: id, Args: args})
	if err != nil {
		return nil, rpcError("ExecuteCommand", err)
	}
	out, err := p.client.ExecuteCommand(ctx, in)
	if err != nil {
		return nil, rpcError("ExecuteCommand", err)
	}
	var res exthostv1.ExecuteCommandResponse
	if err := exthostv1.Decode(out, &res); err != nil {
		return nil, rpcError("ExecuteCommand", err)
	}
	return res.Result, nil
}

func (p *proxy) ActivatedExtensions(ctx context.Context) ([]string, error) {
	out, err := p.client.ActivatedExtensions(ctx, exthostv1.Empty())
	if err != nil {
		return nil, rpcError("ActivatedExtensions", err)
	}
	var res exthostv1.ActivatedExtensionsResponse
	if err := exthostv1.Decode(out, &res); err != nil {
		return nil, rpcError("ActivatedExtensions", err)
	}
	return res.Extensions, nil
}

func (p *proxy) WillRunFileOperation(ctx context.Context, op exthost.FileOperation, files []exthost.FileChange) ([]exthost.FileEdit, error) {
	in, err := exthostv1.Encode(exthostv1.WillRunFileOperationRequest{Operation: op, Files: files})
	if err != nil {
		return nil, rpcError("WillRunFileOperation", err)
	}
	out, err := p.client.WillRunFileOperation(ctx, in)
	if err != nil {
		return nil, rpcError("WillRunFileOperation", err)
	}
	var res exthostv1.WillRunFileOperationResponse
	if err := exthostv1.Decode(out, &res); err != nil {
		return nil, rpcError("WillRunFileOperation", err)
	}
	return res.Edits, nil
}
