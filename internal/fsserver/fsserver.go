// Package fsserver exposes the fd-level syscall inventory implemented
// by internal/fsproc over the PFS1 wire protocol (internal/wireproto),
// plus a minimal process table standing in for the out-of-scope
// loader/scheduler, a /healthz endpoint and a Prometheus /metrics
// endpoint.
//
// Grounded on the teacher's internal/server package: a single HTTP POST
// endpoint that parses a fixed header, dispatches on an opcode byte,
// and writes back a matching response envelope, plus a ring-buffer
// request log.
package fsserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wicos64/persistentfs/internal/directory"
	"github.com/wicos64/persistentfs/internal/fsproc"
	"github.com/wicos64/persistentfs/internal/inode"
	"github.com/wicos64/persistentfs/internal/version"
	"github.com/wicos64/persistentfs/internal/wireproto"
)

// maxRequestBody bounds a PFS1 frame: header plus the largest payload
// the wire format can express (a u16 length).
const maxRequestBody = wireproto.HeaderSize + 0xFFFF

// ErrCorrupt is raised (as a panic, recovered at the per-request
// boundary) when an on-disk structure fails its integrity check
// mid-dispatch. It realizes spec §7's "integrity violations are fatal
// and never surface to user space" in a host language without
// kernel-style process abort: fatal here means "never returned to the
// caller as an ordinary response," not "takes down the whole server."
type ErrCorrupt struct {
	Op  byte
	Err error
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("fsserver: corrupt filesystem state handling op 0x%02x: %v", e.Op, e.Err)
}

func (e *ErrCorrupt) Unwrap() error { return e.Err }

// Server ties the fd layer to an HTTP transport and a pid->Process
// table. Exec/wait/halt/exit are implemented here as a minimal
// in-process pid -> *fsproc.Process map rather than a real loader; no
// goroutine runs per process.
type Server struct {
	log *slog.Logger
	eng *inode.Engine
	fs  *directory.FS

	procMu  sync.Mutex
	procs   map[int]*fsproc.Process
	nextPID int

	logs *requestLog

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func New(log *slog.Logger, eng *inode.Engine, fs *directory.FS) *Server {
	return &Server{
		log:        log,
		eng:        eng,
		fs:         fs,
		procs:      make(map[int]*fsproc.Process),
		nextPID:    1,
		logs:       newRequestLog(512),
		shutdownCh: make(chan struct{}),
	}
}

// Done is closed once a client issues the halt syscall.
func (s *Server) Done() <-chan struct{} { return s.shutdownCh }

// HTTPHandler returns the full mux: the PFS1 RPC endpoint plus
// operability surface (/healthz, /metrics).
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pfs1", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "pfsd "+version.Get().String()+"\n")
	})
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	var entry logEntry
	entry.RemoteAddr = r.RemoteAddr

	defer func() {
		if rec := recover(); rec != nil {
			var ce *ErrCorrupt
			if asCorrupt(rec, &ce) {
				s.log.Error("filesystem integrity violation", "op", ce.Op, "err", ce.Err)
				entry.Status = wireproto.StatusCorrupt
				_ = s.writeResponse(w, entry.Op, wireproto.StatusCorrupt, nil)
			} else {
				s.log.Error("panic handling request", "recovered", rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
			entry.Duration = time.Since(start)
			s.logs.add(entry)
		}
	}()

	w.Header().Set("Content-Type", "application/octet-stream")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	_ = r.Body.Close()
	if err != nil || len(body) > maxRequestBody {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hdr, ok, err := wireproto.ParseReqHeader(body)
	if err != nil || !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry.Op = hdr.Op
	if len(body)-wireproto.HeaderSize < int(hdr.PayloadLen) {
		_ = s.writeResponse(w, hdr.Op, wireproto.StatusBadRequest, nil)
		entry.Status = wireproto.StatusBadRequest
		entry.Duration = time.Since(start)
		s.logs.add(entry)
		return
	}
	payload := body[wireproto.HeaderSize : wireproto.HeaderSize+int(hdr.PayloadLen)]

	status, respPayload := s.dispatch(hdr.Op, payload)
	entry.Status = status
	entry.Duration = time.Since(start)
	s.logs.add(entry)

	_ = s.writeResponse(w, hdr.Op, status, respPayload)
}

func (s *Server) writeResponse(w http.ResponseWriter, opEcho, status byte, payload []byte) error {
	resp, err := wireproto.BuildResponse(opEcho, status, payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return err
	}
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(resp)
	return err
}

func asCorrupt(rec any, out **ErrCorrupt) bool {
	if err, ok := rec.(error); ok {
		var ce *ErrCorrupt
		if errors.As(err, &ce) {
			*out = ce
			return true
		}
	}
	if ce, ok := rec.(*ErrCorrupt); ok {
		*out = ce
		return true
	}
	return false
}

func corruptf(op byte, err error) {
	panic(&ErrCorrupt{Op: op, Err: err})
}

// Shutdown gracefully stops srv once halt has been received or ctx is
// done, whichever comes first.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.shutdownCh:
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}
