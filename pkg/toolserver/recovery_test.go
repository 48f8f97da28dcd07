package toolserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/famulus-ai/famulus/pkg/models"
)

// fakeNetError implements net.Error for classification tests.
type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil error", nil, ReturnError},
		{"context canceled", context.Canceled, ReturnError},
		{"context deadline", context.DeadlineExceeded, ReturnError},
		{"net timeout", &fakeNetError{timeout: true}, ReturnError},
		{"net connection failure", &fakeNetError{timeout: false}, RecreateSession},
		{"eof", io.EOF, RecreateSession},
		{"unexpected eof", io.ErrUnexpectedEOF, RecreateSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RecreateSession},
		{"connection reset", errors.New("read: connection reset by peer"), RecreateSession},
		{"broken pipe", errors.New("write: broken pipe"), RecreateSession},
		{"protocol error", errors.New("jsonrpc: invalid params"), ReturnError},
		{"unknown error", errors.New("something else entirely"), ReturnError},
		{"wrapped eof", fmt.Errorf("call failed: %w", io.EOF), RecreateSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, models.ErrKindTransportTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), models.ErrKindTransportTimeout},
		{"net timeout", &fakeNetError{timeout: true}, models.ErrKindTransportTimeout},
		{"invalid params", errors.New("jsonrpc: invalid params"), models.ErrKindBadArgs},
		{"method not found", errors.New("method not found: frobnicate"), models.ErrKindBadArgs},
		{"connection refused", errors.New("dial tcp: connection refused"), models.ErrKindUpstreamUnavailable},
		{"unknown server error", errors.New("internal server error"), models.ErrKindUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOfNil(t *testing.T) {
	assert.Equal(t, models.ErrorKind(""), KindOf(nil))
}
