package grpctransport

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"admissiongate/internal/gateway/core"
)

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	code := core.CodeOf(err)
	grpcCode := codes.Internal
	switch code {
	case core.CodeInvalidInput, core.CodeInvalidContext:
		grpcCode = codes.InvalidArgument
	case core.CodeQuotaExceeded:
		grpcCode = codes.ResourceExhausted
	case core.CodeUpstreamUnavailable, core.CodeStoreUnavailable:
		grpcCode = codes.Unavailable
	case core.CodeConflict:
		grpcCode = codes.FailedPrecondition
	case core.CodeNotFound:
		grpcCode = codes.NotFound
	case core.CodeUnauthorized:
		grpcCode = codes.Unauthenticated
	case core.CodeForbidden:
		grpcCode = codes.PermissionDenied
	}
	return status.Error(grpcCode, err.Error())
}
