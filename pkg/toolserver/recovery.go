package toolserver

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/famulus-ai/famulus/pkg/models"
)

// RecoveryAction determines how the client reacts to a server operation failure.
type RecoveryAction int

const (
	// ReturnError: the session is fine, the error goes to the caller as-is.
	ReturnError RecoveryAction = iota
	// RecreateSession: transport failure, tear down and rebuild the session
	// so the caller's next attempt has a live connection.
	RecreateSession
)

// Recovery configuration constants.
const (
	// InitTimeout is the per-server initialization timeout (transport + handshake).
	InitTimeout = 30 * time.Second

	// ReinitTimeout is the deadline for recreating a session during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout bounds CallTool and ListTools for callers that carry
	// no deadline of their own. The invoker's per-tool timeout is the normal
	// bound above this client.
	OperationTimeout = 90 * time.Second
)

// ClassifyError determines the recovery action for a server operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return ReturnError
	}

	// Context errors: the caller gave up, the session may still be fine.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReturnError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReturnError // timeout: server may just be slow
		}
		return RecreateSession
	}

	if isConnectionError(err) {
		return RecreateSession
	}

	return ReturnError
}

// KindOf maps a server operation error to the error kind the invoker reports.
func KindOf(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrKindTransportTimeout
	case isTimeout(err):
		return models.ErrKindTransportTimeout
	case isProtocolError(err):
		return models.ErrKindBadArgs
	default:
		// Connection failures and unknown server errors are treated as the
		// upstream being unavailable, which the invoker may retry.
		return models.ErrKindUpstreamUnavailable
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

// isProtocolError detects MCP JSON-RPC protocol errors from the SDK.
// These are client-side errors like bad request or method not found and are
// never worth retrying.
func isProtocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	protocolIndicators := []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	}
	for _, indicator := range protocolIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
