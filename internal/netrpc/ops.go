package netrpc

import "fmt"

// NewEmptyRequest returns an empty request for op. Returns an error wrapping
// ErrnoNoSys if op is unknown.
func NewEmptyRequest(op Op) (Request, error) {
	switch op {
	case OpOpen:
		return &OpenRequest{}, nil
	case OpWrite:
		return &WriteRequest{}, nil
	case OpRead:
		return &ReadRequest{}, nil
	case OpLock:
		return &LockRequest{}, nil
	case OpControl:
		return &ControlRequest{}, nil
	case OpSeek:
		return &SeekRequest{}, nil
	case OpSync:
		return &SyncRequest{}, nil
	case OpClose:
		return &CloseRequest{}, nil
	default:
		return nil, fmt.Errorf("no request for %s: %w", op, ErrnoNoSys)
	}
}

// NewEmptyResponse returns an empty response for op. Returns an error wrapping
// ErrnoNoSys if op is unknown.
func NewEmptyResponse(op Op) (Response, error) {
	switch op {
	case OpOpen:
		return &OpenResponse{}, nil
	case OpWrite:
		return &WriteResponse{}, nil
	case OpRead:
		return &ReadResponse{}, nil
	case OpControl:
		return &ControlResponse{}, nil
	case OpSeek:
		return &SeekResponse{}, nil
	case OpLock, OpSync, OpClose:
		return &ErrnoResponse{}, nil
	default:
		return nil, fmt.Errorf("no response for %s: %w", op, ErrnoNoSys)
	}
}

// FailedResponse returns the response for op reporting errno e. Numeric
// results are set to -1 so the response never looks like a success.
func FailedResponse(op Op, e Errno) (Response, error) {
	resp, err := NewEmptyResponse(op)
	if err != nil {
		return nil, err
	}
	switch resp := resp.(type) {
	case *OpenResponse:
		resp.FD = -1
	case *WriteResponse:
		resp.Written = -1
	case *ControlResponse:
		resp.Result = -1
	case *SeekResponse:
		resp.Offset = -1
	}
	resp.SetErrno(e)
	return resp, nil
}
