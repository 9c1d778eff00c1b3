/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package server implements the HTTP/2 server side of the framework:
// construction, request dispatch (worker pool or inline), congestion
// control, graceful shutdown and metrics, wired over golang.org/x/net/http2
// (TLS) and golang.org/x/net/http2/h2c (plaintext).
package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/testillano/http2comm/dispatcher"
	"github.com/testillano/http2comm/errcode"
	"github.com/testillano/http2comm/htlog"
	"github.com/testillano/http2comm/metrics"
	"github.com/testillano/http2comm/stream"
)

const timeoutShutdown = 10 * time.Second

// Server owns one HTTP/2 listener, its optional worker pool and metrics.
type Server struct {
	cfg     Config
	handler Handler
	log     htlog.Logger
	metrics *metrics.Registry

	dispatcher *dispatcher.Dispatcher

	receptionID atomic.Uint64
	maxBodySize atomic.Int64

	mu      sync.Mutex
	httpSrv *http.Server
	cancel  context.CancelFunc
	running bool
}

// New validates cfg and builds a Server bound to handler. The dispatcher
// (if any) is created here; the listener is not opened until Listen.
func New(cfg Config, handler Handler, log htlog.FuncLog) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		log:     htlog.Resolve(log),
	}

	if cfg.WorkerThreads >= 1 {
		d, err := dispatcher.New(cfg.Name, cfg.WorkerThreads, cfg.MaxWorkerThreads, s.log)
		if err != nil {
			return nil, err
		}
		s.dispatcher = d
	}

	return s, nil
}

// EnableMetrics registers the server-side metric family under the given
// prometheus registerer. Not idempotent: calling it twice registers the
// same metric names again, which the prometheus registerer rejects by
// panicking.
func (s *Server) EnableMetrics(registerer prometheus.Registerer, sourceLabel string) {
	name := sourceLabel
	if name == "" {
		name = s.cfg.Name
	}
	s.metrics = metrics.New(registerer, metrics.Server, name, s.cfg.DelayBuckets, s.cfg.SizeBuckets)
}

// Listen starts serving. TLS is used when cfg.TLS carries a certificate;
// otherwise the server speaks HTTP/2 cleartext (h2c) so plain TCP test
// clients can exercise it, per spec.md's scenarios running "plain HTTP/2".
func (s *Server) Listen() error {
	var handler http.Handler = http.HandlerFunc(s.serveHTTP)

	h2s := &http2.Server{}
	if s.cfg.MaxHandlers > 0 {
		h2s.MaxHandlers = s.cfg.MaxHandlers
	}
	if s.cfg.MaxConcurrentStreams > 0 {
		h2s.MaxConcurrentStreams = s.cfg.MaxConcurrentStreams
	}
	h2s.PermitProhibitedCipherSuites = s.cfg.PermitProhibitedCipherSuites
	h2s.IdleTimeout = s.cfg.ReadKeepAlive
	if s.cfg.MaxUploadBufferPerConnection > 0 {
		h2s.MaxUploadBufferPerConnection = s.cfg.MaxUploadBufferPerConnection
	}
	if s.cfg.MaxUploadBufferPerStream > 0 {
		h2s.MaxUploadBufferPerStream = s.cfg.MaxUploadBufferPerStream
	}

	srv := &http.Server{
		Addr:        net.JoinHostPort(s.cfg.BindAddress, s.cfg.ListenPort),
		IdleTimeout: s.cfg.ReadKeepAlive,
	}

	useTLS := s.cfg.TLS.IsSet()
	if useTLS {
		tlsCfg, err := s.cfg.TLS.ServerTLSConfig()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
		srv.Handler = handler
		if err := http2.ConfigureServer(srv, h2s); err != nil {
			return errcode.Wrap(errcode.ServerListen, err)
		}
	} else {
		srv.Handler = h2c.NewHandler(handler, h2s)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errcode.New(errcode.ServerAlreadyRunning)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.httpSrv = srv
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("server %q starting on %s (tls=%v)", s.cfg.Name, srv.Addr, useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("server %q listen error: %v", s.cfg.Name, err)
		}
		errCh <- err
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.cfg.Asynchronous {
		return nil
	}

	err := <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errcode.Wrap(errcode.ServerListen, err)
	}
	return nil
}

// IsRunning reports whether Listen has an active listener.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// WaitNotify blocks until SIGINT/SIGTERM/SIGQUIT, then shuts down.
func (s *Server) WaitNotify() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	s.Shutdown()
}

// Shutdown gracefully stops the listener (10s deadline) and the worker
// pool, if any, concurrently, then joins both before returning.
// Outstanding streams are dropped per spec.md §5.
func (s *Server) Shutdown() {
	s.mu.Lock()
	srv := s.httpSrv
	cancel := s.cancel
	s.mu.Unlock()

	var g errgroup.Group
	if srv != nil {
		g.Go(func() error {
			ctx, done := context.WithTimeout(context.Background(), timeoutShutdown)
			defer done()
			return srv.Shutdown(ctx)
		})
	}
	if s.dispatcher != nil {
		g.Go(func() error {
			s.dispatcher.Stop()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Errorf("server %q shutdown error: %v", s.cfg.Name, err)
	}
	if cancel != nil {
		cancel()
	}
}

// Stop is an alias for Shutdown, matching the C++ original's serve()/stop() pairing.
func (s *Server) Stop() { s.Shutdown() }

// PortInUse probes whether the configured bind address/port already has a
// listener, by attempting a short-lived dial.
func (s *Server) PortInUse() error {
	addr := net.JoinHostPort(s.cfg.BindAddress, s.cfg.ListenPort)
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// serveHTTP is the http.Handler every request enters through. It builds a
// Stream, reads the body in chunks (bookkeeping the running max body size
// seen on this server), assigns a reception id at end-of-body, and either
// dispatches to the worker pool or runs inline.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	req := stream.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		URI:     r.URL.RequestURI(),
		Headers: r.Header,
	}

	body := s.readBody(r, req)

	id := s.receptionID.Add(1)
	st := stream.New(s.handler, responseSink{w: w}, s.metrics, s.log, req, body, id)

	served := make(chan struct{})
	go func() {
		<-r.Context().Done()
		select {
		case <-served:
		default:
			st.Error(0x8) // CANCEL: best-effort, see responseSink.Reset
		}
	}()

	if s.dispatcher != nil {
		item := streamItem{
			s:            st,
			queueMaxSize: *s.cfg.QueueMaxSize,
			maxThreads:   s.dispatcherMax(),
			done:         make(chan struct{}),
		}
		s.dispatcher.Dispatch(item)
		<-item.done
	} else {
		st.Reception(false)
		st.CommitNow()
	}

	close(served)
	st.Close()

	// A Result.Status below 100 asks for RST_STREAM instead of a normal
	// response; the abort has to happen on this goroutine (the one
	// net/http will recover panic(http.ErrAbortHandler) on), never on
	// whichever goroutine ran Commit — see stream.Stream.TakePendingReset.
	if code, ok := st.TakePendingReset(); ok {
		responseSink{w: w}.Reset(code)
	}
}

func (s *Server) dispatcherMax() int {
	if s.cfg.MaxWorkerThreads > 0 {
		return s.cfg.MaxWorkerThreads
	}
	return s.cfg.WorkerThreads
}

func (s *Server) readBody(r *http.Request, req stream.Request) []byte {
	preReserve := s.handler.PreReserveRequestBody()
	keep := s.handler.ReceiveDataLen(req)
	capHint := 0
	if preReserve {
		capHint = int(s.maxBodySize.Load())
	}
	buf := bytes.NewBuffer(make([]byte, 0, capHint))

	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			if keep {
				buf.Write(chunk[:n])
			}
			if preReserve {
				s.bumpMaxBodySize(int64(buf.Len()))
			}
		}
		if err != nil {
			break
		}
	}
	return buf.Bytes()
}

// bumpMaxBodySize is a lock-free monotonic max, matching spec.md §5's
// "running maximum request body size: atomic; written only when a larger
// chunk is observed".
func (s *Server) bumpMaxBodySize(n int64) {
	for {
		cur := s.maxBodySize.Load()
		if n <= cur {
			return
		}
		if s.maxBodySize.CompareAndSwap(cur, n) {
			return
		}
	}
}
