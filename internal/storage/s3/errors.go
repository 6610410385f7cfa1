package s3

import (
	"context"
	stderrors "errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/stillshot/stillshot/internal/circuit"
	"github.com/stillshot/stillshot/pkg/errors"
)

// API error codes that mean "try again later" even though some services
// send them with a 4xx status.
var transientCodes = map[string]bool{
	"RequestTimeout":       true,
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"TooManyRequests":      true,
	"RequestLimitExceeded": true,
	"ServiceUnavailable":   true,
	"InternalError":        true,
	"OperationAborted":     true,
}

// classify maps an SDK error to STORAGE_UNREACHABLE or STORAGE_REJECTED.
// Anything that never produced an HTTP response is unreachable.
func classify(err error, op, key string) *errors.AgentError {
	if err == nil {
		return nil
	}

	var agentErr *errors.AgentError
	if stderrors.As(err, &agentErr) && (agentErr.Code == errors.ErrCodeStorageUnreachable || agentErr.Code == errors.ErrCodeStorageRejected) {
		return agentErr
	}

	status := 0
	var respErr *awshttp.ResponseError
	if stderrors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	apiCode := ""
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		apiCode = apiErr.ErrorCode()
	}

	code := errors.ErrCodeStorageUnreachable
	msg := "storage unreachable"
	switch {
	case stderrors.Is(err, circuit.ErrOpenState), stderrors.Is(err, circuit.ErrTooManyRequests):
		msg = "storage circuit open"
	case stderrors.Is(err, context.DeadlineExceeded):
		msg = "storage request timed out"
	case transientCodes[apiCode], status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		msg = "storage throttled the request"
	case status >= 400 && status < 500:
		code = errors.ErrCodeStorageRejected
		msg = "storage rejected the request"
	case status >= 500:
		msg = "storage service error"
	}

	out := errors.Wrap(err, code, msg).
		WithComponent("storage").
		WithOperation(op).
		WithRetryable(code == errors.ErrCodeStorageUnreachable)
	if key != "" {
		out = out.WithContext("key", key)
	}
	if status != 0 {
		out = out.WithDetail("http_status", status)
	}
	if apiCode != "" {
		out = out.WithContext("api_code", apiCode)
	}
	return out
}
