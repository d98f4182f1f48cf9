package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TestIsReadOnlyMethod verifies the read-only allowlist used to gate the
// loopback listener from write-capable Admin RPCs.
func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		expected bool
	}{
		{name: "info is read-only", method: "/coral.ClusterAdmin/Info", expected: true},
		{name: "read is read-only", method: "/coral.ClusterAdmin/Read", expected: true},
		{name: "generate token is not read-only", method: "/coral.ClusterAdmin/GenerateToken", expected: false},
		{name: "add peer is not read-only", method: "/coral.ClusterAdmin/AddPeer", expected: false},
		{name: "propose is not read-only", method: "/coral.ClusterAdmin/Propose", expected: false},
		{name: "malformed method rejected", method: "Info", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isReadOnlyMethod(tt.method))
		})
	}
}

func TestReadOnlyInterceptorBlocksMutations(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handlerCalled := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/coral.ClusterAdmin/AddPeer"}, handler)
	assert.False(t, handlerCalled)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestReadOnlyInterceptorAllowsInfo(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/coral.ClusterAdmin/Info"}, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRequestLogInterceptorPassesThroughResult(t *testing.T) {
	interceptor := RequestLogInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "result", nil
	}

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/coral.ClusterAdmin/Info"}, handler)
	assert.NoError(t, err)
	assert.Equal(t, "result", resp)
}

func TestRequestLogInterceptorPropagatesError(t *testing.T) {
	interceptor := RequestLogInterceptor()
	wantErr := errors.New("boom")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/coral.ClusterAdmin/Propose"}, handler)
	assert.ErrorIs(t, err, wantErr)
}
