package realtime

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/coder/websocket"
)

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

func readErrName(k readErrKind) string {
	switch k {
	case readErrClose:
		return "peer_closed"
	case readErrCtxDone:
		return "ctx_done"
	case readErrConnClosed:
		return "conn_closed"
	default:
		return "unknown"
	}
}
