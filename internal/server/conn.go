package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/valkrau/shardmap/internal/resp"
)

// Buffer sizes matter for pipelining: a batch of replies can exceed
// the default 4KB easily.
const (
	readBufferSize  = 64 * 1024
	writeBufferSize = 1024 * 1024

	// Replies buffered before a flush is forced even though more
	// input is pending. Keep it at or above typical pipeline depths
	// so batches are not split across flushes.
	maxPendingReplies = 128
)

// ServeConn owns conn: it reads commands until disconnect or QUIT and
// writes replies, flushing when the inbound pipeline drains. A
// malformed frame gets an error reply and closes the connection,
// since the stream position can no longer be trusted.
func ServeConn(conn net.Conn, h *Handler, log *zap.Logger) {
	defer conn.Close()

	r := bufio.NewReaderSize(conn, readBufferSize)
	w := bufio.NewWriterSize(conn, writeBufferSize)

	args := make([]string, 0, 8)
	scratch := make([]byte, 0, 4096)
	out := make([]byte, 0, 4096)
	pending := 0

	for {
		err := resp.ReadCommand(r, &args, &scratch)
		if err != nil {
			var ne net.Error
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
				errors.Is(err, net.ErrClosed) || errors.As(err, &ne) {
				return
			}
			out = resp.AppendError(out[:0], "ERR protocol error: "+err.Error())
			w.Write(out)
			w.Flush()
			log.Debug("protocol error", zap.Error(err))
			return
		}

		var closeAfter bool
		out, closeAfter = h.Execute(out[:0], args)
		if _, err := w.Write(out); err != nil {
			return
		}
		pending++

		if closeAfter {
			w.Flush()
			return
		}
		if r.Buffered() == 0 || pending >= maxPendingReplies {
			if err := w.Flush(); err != nil {
				return
			}
			pending = 0
		}
	}
}

// SlowCommand reports whether cmd walks the whole keyspace. The event
// loop binary moves such commands off its loops.
func SlowCommand(cmd string) bool {
	switch normalize(cmd) {
	case "KEYS", "FLUSHALL", "INFO":
		return true
	}
	return false
}
