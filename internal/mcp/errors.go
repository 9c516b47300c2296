// Package mcp implements the Model Context Protocol server for
// multivec, exposing search, ingest, and reindex tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// Custom MCP error codes for multivec.
const (
	// ErrCodeModelUnavailable indicates an embedding backend failure.
	ErrCodeModelUnavailable = -32001

	// ErrCodeSearchUnavailable indicates every search branch failed.
	ErrCodeSearchUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeConflict indicates a conflicting in-flight operation.
	ErrCodeConflict = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *mverr.MultivecError
	if errors.As(err, &me) {
		return mapMultivecError(me)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// mapMultivecError maps structured error codes onto JSON-RPC codes.
func mapMultivecError(me *mverr.MultivecError) *MCPError {
	switch me.Code {
	case mverr.ErrCodeModelUnavailable, mverr.ErrCodeUpstream:
		return &MCPError{Code: ErrCodeModelUnavailable, Message: me.Message}
	case mverr.ErrCodeSearchUnavailable:
		return &MCPError{Code: ErrCodeSearchUnavailable, Message: me.Message}
	case mverr.ErrCodeCircuitOpen:
		return &MCPError{Code: ErrCodeModelUnavailable, Message: me.Message}
	case mverr.ErrCodeConflict:
		return &MCPError{Code: ErrCodeConflict, Message: me.Message}
	}

	switch me.Category {
	case mverr.CategoryConfig:
		return &MCPError{Code: ErrCodeInvalidParams, Message: me.Message}
	case mverr.CategoryUpstream:
		return &MCPError{Code: ErrCodeModelUnavailable, Message: me.Message}
	case mverr.CategoryCoordination:
		return &MCPError{Code: ErrCodeConflict, Message: me.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: me.Message}
	}
}
