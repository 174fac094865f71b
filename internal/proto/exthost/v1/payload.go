// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package exthostv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
)

// UpdateExtensionDataRequest replaces the host's extension list.
type UpdateExtensionDataRequest struct {
	Extensions []extension.Info `json:"extensions"`
}

// ActivateExtensionRequest activates one extension.
type ActivateExtensionRequest struct {
	Extension extension.Info `json:"extension"`
}

// ActivateExtensionResponse lists what the activation registered.
type ActivateExtensionResponse struct {
	Commands []string `json:"commands,omitempty"`
}

// ExecuteCommandRequest runs a command.
type ExecuteCommandRequest struct {
	Command string `json:"command"`
	Args    []any  `json:"args,omitempty"`
}

// ExecuteCommandResponse carries the command result.
type ExecuteCommandResponse struct {
	Result any `json:"result,omitempty"`
}

// ActivatedExtensionsResponse lists active extension ids.
type ActivatedExtensionsResponse struct {
	Extensions []string `json:"extensions"`
}

// WillRunFileOperationRequest asks participants for edits.
type WillRunFileOperationRequest struct {
	Operation exthost.FileOperation `json:"operation"`
	Files     []exthost.FileChange  `json:"files"`
}

// WillRunFileOperationResponse carries merged participant edits.
type WillRunFileOperationResponse struct {
	Edits []exthost.FileEdit `json:"edits,omitempty"`
}

// Encode converts a payload into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

// Decode converts a Struct into out.
func Decode(s *structpb.Struct, out any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Empty returns an empty Struct.
func Empty() *structpb.Struct {
	return new(structpb.Struct)
}
