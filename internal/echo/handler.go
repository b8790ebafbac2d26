package echo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/lineecho/internal/observability"
	"github.com/danmuck/lineecho/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// ErrStalled reports a read that produced no new bytes, so the pending
// partial frame can never complete.
var ErrStalled = errors.New("echo: stalled connection")

// Phase is the handler's position in the read/frame/write cycle.
type Phase string

const (
	PhaseAwaitingData Phase = "awaiting_data"
	PhaseHavePartial  Phase = "have_partial"
	PhaseFrameReady   Phase = "frame_ready"
	PhaseEchoed       Phase = "echoed"
	PhaseClosed       Phase = "closed"
)

// ConnStats summarizes one finished connection.
type ConnStats struct {
	Frames      int
	BytesRead   int
	BytesEchoed int
	Pending     int
	LastPhase   Phase
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Handler runs the echo loop for one connection at a time. A Handler holds
// only configuration and may be shared by any number of goroutines.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg.withDefaults()}
}

// Serve reads from conn, echoes every complete frame back without its
// delimiter and returns once the peer is done. A clean end of stream returns
// nil; a peer that stops sending in the middle of a frame yields ErrStalled.
// Cancelling ctx closes conn when it implements io.Closer and Serve returns nil.
func (h *Handler) Serve(ctx context.Context, conn io.ReadWriter) (ConnStats, error) {
	logger := zerolog.Ctx(ctx)
	if c, ok := conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	var (
		st      ConnStats
		buf     []byte
		eof     bool
		scratch = make([]byte, h.cfg.ReadBufferSize)
		w       = bufio.NewWriter(conn)
	)
	finish := func(err error) (ConnStats, error) {
		st.Pending = len(buf)
		st.LastPhase = PhaseClosed
		if err != nil && !errors.Is(err, ErrStalled) && !errors.Is(err, frame.ErrFrameTooLarge) && ctx.Err() != nil {
			return st, nil
		}
		return st, err
	}

	for {
		if frm, rest, ok := frame.TryExtract(buf); ok {
			st.LastPhase = PhaseFrameReady
			logger.Debug().Int("size", len(frm)).Msg("received frame")
			if err := h.write(conn, w, frm); err != nil {
				return finish(fmt.Errorf("echo: write frame: %w", err))
			}
			st.Frames++
			st.BytesEchoed += len(frm)
			st.LastPhase = PhaseEchoed
			observability.RecordFrameEchoed(len(frm))
			if len(rest) == 0 {
				buf = buf[:0]
			} else {
				buf = rest
			}
			continue
		}

		if len(buf) == 0 {
			st.LastPhase = PhaseAwaitingData
		} else {
			st.LastPhase = PhaseHavePartial
		}
		if err := h.cfg.Limits.Check(len(buf)); err != nil {
			return finish(err)
		}
		if eof {
			if len(buf) > 0 {
				return finish(ErrStalled)
			}
			return finish(nil)
		}

		n, err := h.read(conn, scratch)
		if n > 0 {
			buf = append(buf, scratch[:n]...)
			st.BytesRead += n
			observability.RecordBytesRead(n)
		}
		switch {
		case err == nil && n == 0:
			return finish(ErrStalled)
		case errors.Is(err, io.EOF):
			// Drain whatever arrived with the EOF before deciding.
			eof = true
		case err != nil:
			return finish(fmt.Errorf("echo: read: %w", err))
		}
	}
}

func (h *Handler) read(conn io.Reader, p []byte) (int, error) {
	if d, ok := conn.(readDeadliner); ok && h.cfg.IdleTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout)); err != nil {
			return 0, err
		}
	}
	return conn.Read(p)
}

func (h *Handler) write(conn io.Writer, w *bufio.Writer, frm []byte) error {
	if d, ok := conn.(writeDeadliner); ok && h.cfg.WriteTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := w.Write(frm); err != nil {
		return err
	}
	return w.Flush()
}
