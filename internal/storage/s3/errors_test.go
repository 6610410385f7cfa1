package s3

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"

	"github.com/stillshot/stillshot/internal/circuit"
	"github.com/stillshot/stillshot/pkg/errors"
)

func responseError(status int, code string) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      &smithy.GenericAPIError{Code: code, Message: "test"},
		},
		RequestID: "req-1",
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"access denied", responseError(403, "AccessDenied"), errors.ErrCodeStorageRejected},
		{"no such bucket", responseError(404, "NoSuchBucket"), errors.ErrCodeStorageRejected},
		{"bad request", responseError(400, "InvalidArgument"), errors.ErrCodeStorageRejected},
		{"slow down", responseError(503, "SlowDown"), errors.ErrCodeStorageUnreachable},
		{"throttled with 4xx", responseError(400, "Throttling"), errors.ErrCodeStorageUnreachable},
		{"too many requests", responseError(429, ""), errors.ErrCodeStorageUnreachable},
		{"server error", responseError(500, "InternalError"), errors.ErrCodeStorageUnreachable},
		{"timeout", fmt.Errorf("put: %w", context.DeadlineExceeded), errors.ErrCodeStorageUnreachable},
		{"open circuit", circuit.ErrOpenState, errors.ErrCodeStorageUnreachable},
		{"network", fmt.Errorf("dial tcp 10.0.0.1:443: connect: connection refused"), errors.ErrCodeStorageUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "Upload", "cameras/cam-01/x.jpg")
			assert.Equal(t, tt.want, got.Code)
			assert.Equal(t, tt.want == errors.ErrCodeStorageUnreachable, got.Retryable)
			assert.Equal(t, "cameras/cam-01/x.jpg", got.Context["key"])
		})
	}

	assert.Nil(t, classify(nil, "Upload", ""))
}

func TestClassify_KeepsStorageErrors(t *testing.T) {
	inner := errors.NewError(errors.ErrCodeStorageRejected, "rejected").WithOperation("PutObject")
	got := classify(fmt.Errorf("wrapped: %w", inner), "Upload", "k")
	assert.Same(t, inner, got)
}
