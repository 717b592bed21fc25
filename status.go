// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain identifies this module in gRPC error details.
const errorDomain = "github.com/luxfi/ipc"

// grpcCode maps a bus error code onto the gRPC code space.
func grpcCode(code ErrorCode) codes.Code {
	switch code {
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeTargetReleased:
		return codes.Unavailable
	case CodeNotFound:
		return codes.Unimplemented
	case CodeUnknown:
		return codes.Unknown
	default:
		return codes.Internal
	}
}

func busCode(c codes.Code) ErrorCode {
	switch c {
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Unavailable:
		return CodeTargetReleased
	case codes.Unimplemented:
		return CodeNotFound
	default:
		return CodeUnknown
	}
}

func reasonOf(code ErrorCode) string {
	switch code {
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeTargetReleased:
		return "TARGET_RELEASED"
	case CodeUnknown:
		return "UNKNOWN"
	default:
		return "APPLICATION"
	}
}

// ToGRPCStatus converts a call failure into a gRPC status for hosts
// that re-surface bus errors over gRPC APIs. The exact bus code rides
// in an ErrorInfo detail so FromGRPCStatus can restore it.
func ToGRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, ErrClosed) {
			return status.New(codes.Unavailable, err.Error())
		}
		return status.New(codes.Internal, err.Error())
	}

	st := status.New(grpcCode(e.Code), e.Message)
	meta := map[string]string{"code": strconv.Itoa(int(e.Code))}
	if e.Method != "" {
		meta["method"] = e.Method
	}
	if e.Args != "" {
		meta["args"] = e.Args
	}
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reasonOf(e.Code),
		Domain:   errorDomain,
		Metadata: meta,
	})
	if derr != nil {
		return st
	}
	return detailed
}

// FromGRPCStatus rebuilds a bus error from a gRPC status. Statuses
// carrying this module's ErrorInfo detail restore their exact code;
// anything else maps back through the gRPC code space. OK yields nil.
func FromGRPCStatus(st *status.Status) error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}
	e := &Error{Code: busCode(st.Code()), Message: st.Message()}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		meta := info.GetMetadata()
		if c, err := strconv.Atoi(meta["code"]); err == nil {
			e.Code = ErrorCode(c)
		}
		e.Method = meta["method"]
		e.Args = meta["args"]
	}
	return e
}
