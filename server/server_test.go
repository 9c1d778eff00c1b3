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

package server_test

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/net/http2"

	"github.com/testillano/http2comm/headers"
	"github.com/testillano/http2comm/server"
	"github.com/testillano/http2comm/stream"
)

// echoHandler replies 200 with the request body, honoring an optional
// X-Delay-Ms header for response-delay testing.
type echoHandler struct {
	server.DefaultHandler
}

func newEchoHandler() echoHandler {
	return echoHandler{DefaultHandler: server.NewDefaultHandler("test-server", "app", "v1")}
}

func (echoHandler) Receive(_ uint64, req stream.Request, body []byte, _ time.Duration) stream.Result {
	delayMS := int64(0)
	if v := req.Headers.Get("X-Delay-Ms"); v != "" {
		delayMS, _ = strconv.ParseInt(v, 10, 64)
	}
	return stream.Result{
		Status:  http.StatusOK,
		Headers: headers.New().AddContentType("text/plain").Get(),
		Body:    body,
		DelayMS: delayMS,
	}
}

// h2cClient dials a plaintext HTTP/2 connection (no TLS negotiation),
// matching the plain-HTTP/2 test scenarios spec.md describes.
func h2cClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func startServer(cfg server.Config, h server.Handler) *server.Server {
	cfg.Asynchronous = true
	srv, err := server.New(cfg, h, nil)
	Expect(err).NotTo(HaveOccurred())
	Expect(srv.Listen()).To(Succeed())
	Eventually(func() error { return srv.PortInUse() }, time.Second, 10*time.Millisecond).Should(Succeed())
	return srv
}

var _ = Describe("Server", func() {
	var h echoHandler

	BeforeEach(func() {
		h = newEchoHandler()
	})

	It("serves a request end to end inline (WorkerThreads<=0)", func() {
		cfg := server.Config{Name: "inline", BindAddress: "127.0.0.1", ListenPort: "18101"}
		srv := startServer(cfg, h)
		defer srv.Shutdown()

		resp, err := h2cClient().Get("http://127.0.0.1:18101/app/v1/widgets")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("dispatches through the worker pool when WorkerThreads > 1", func() {
		cfg := server.Config{Name: "pooled", BindAddress: "127.0.0.1", ListenPort: "18102", WorkerThreads: 2, MaxWorkerThreads: 4}
		srv := startServer(cfg, h)
		defer srv.Shutdown()

		resp, err := h2cClient().Get("http://127.0.0.1:18102/app/v1/widgets")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects a path outside the configured API prefix with 400", func() {
		cfg := server.Config{Name: "apipath", BindAddress: "127.0.0.1", ListenPort: "18103"}
		srv := startServer(cfg, h)
		defer srv.Shutdown()

		resp, err := h2cClient().Get("http://127.0.0.1:18103/other/v1/widgets")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(ContainSubstring("INVALID_API"))
	})

	It("delays the response by the requested, processing-time-corrected duration", func() {
		cfg := server.Config{Name: "delayed", BindAddress: "127.0.0.1", ListenPort: "18104"}
		srv := startServer(cfg, h)
		defer srv.Shutdown()

		req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:18104/app/v1/widgets", nil)
		req.Header.Set("X-Delay-Ms", "150")

		start := time.Now()
		resp, err := h2cClient().Do(req)
		elapsed := time.Since(start)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(elapsed).To(BeNumerically(">=", 130*time.Millisecond))
	})

	It("rejects with 503 once the queue is congested", func() {
		zero := 0
		cfg := server.Config{
			Name: "congested", BindAddress: "127.0.0.1", ListenPort: "18105",
			WorkerThreads: 1, MaxWorkerThreads: 1, QueueMaxSize: &zero,
		}

		release := make(chan struct{})
		var releaseOnce sync.Once
		releaseAll := func() { releaseOnce.Do(func() { close(release) }) }
		blocking := blockingHandler{DefaultHandler: server.NewDefaultHandler("test-server", "app", "v1"), release: release}
		srv := startServer(cfg, blocking)
		defer func() {
			releaseAll()
			srv.Shutdown()
		}()

		client := h2cClient()
		get := func() int {
			resp, err := client.Get("http://127.0.0.1:18105/app/v1/widgets")
			if err != nil {
				return 0
			}
			defer resp.Body.Close()
			return resp.StatusCode
		}

		// Congestion is judged when the worker picks a request up. The first
		// request to reach the single worker blocks on release while the
		// other two queue behind it; once released, the worker picks up the
		// next one with one still queued (size 1 > QueueMaxSize 0).
		statuses := make(chan int, 3)
		for i := 0; i < 3; i++ {
			go func() { statuses <- get() }()
		}
		time.Sleep(200 * time.Millisecond)
		releaseAll()

		got := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			var status int
			Eventually(statuses, 2*time.Second).Should(Receive(&status))
			got = append(got, status)
		}
		Expect(got).To(ContainElement(http.StatusServiceUnavailable))
	})

	It("resets the stream via RST_STREAM without deadlocking the dispatcher worker", func() {
		cfg := server.Config{
			Name: "reset", BindAddress: "127.0.0.1", ListenPort: "18106",
			WorkerThreads: 1, MaxWorkerThreads: 1,
		}
		reset := resetHandler{DefaultHandler: server.NewDefaultHandler("test-server", "app", "v1")}
		srv := startServer(cfg, reset)
		defer srv.Shutdown()

		get := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:18106/app/v1/widgets", nil)
			resp, err := h2cClient().Do(req)
			if err == nil {
				resp.Body.Close()
			}
			return err
		}

		Expect(get()).To(HaveOccurred())
		// A worker left permanently busy by the first request (the bug this
		// guards against) would make every later request on the same
		// single-worker pool time out too.
		err := get()
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(context.DeadlineExceeded))
	})
})

// resetHandler always answers with a sub-100 status, asking the server
// to RST_STREAM instead of writing a normal response.
type resetHandler struct {
	server.DefaultHandler
}

func (resetHandler) Receive(_ uint64, _ stream.Request, _ []byte, _ time.Duration) stream.Result {
	return stream.Result{Status: 1}
}

// blockingHandler blocks the first in-flight request on release, so a
// second concurrent request observes a full, maxed-out worker pool.
type blockingHandler struct {
	server.DefaultHandler
	release chan struct{}
}

func (h blockingHandler) Receive(_ uint64, _ stream.Request, _ []byte, _ time.Duration) stream.Result {
	<-h.release
	return stream.Result{Status: http.StatusOK}
}
