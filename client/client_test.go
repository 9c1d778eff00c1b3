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

package client_test

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/testillano/http2comm/client"
)

// startH2CServer starts a plaintext HTTP/2 test server and returns its
// host/port split for client.New, along with a stop func.
func startH2CServer(handler http.HandlerFunc) (host, port string, stop func()) {
	h2s := &http2.Server{}
	ts := httptest.NewServer(h2c.NewHandler(handler, h2s))
	host, port, _ = net.SplitHostPort(ts.Listener.Addr().String())
	return host, port, ts.Close
}

var _ = Describe("Client", func() {
	It("sends a request and receives the response body and status", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Echo-Method", r.Method)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		})
		defer stop()

		c := client.New("test-client", host, port, false, nil)
		Eventually(c.IsConnected, time.Second, 10*time.Millisecond).Should(BeTrue())

		resp := c.Send(http.MethodPost, "/items", []byte(`{"x":1}`), nil, time.Second)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(string(resp.Body)).To(Equal(`{"x":1}`))
	})

	It("drops the body for GET/DELETE/HEAD", func() {
		var gotLen int
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotLen = len(body)
			w.WriteHeader(http.StatusOK)
		})
		defer stop()

		c := client.New("test-client-get", host, port, false, nil)
		Eventually(c.IsConnected, time.Second, 10*time.Millisecond).Should(BeTrue())

		resp := c.Send(http.MethodGet, "/items", []byte("should not be sent"), nil, time.Second)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(gotLen).To(Equal(0))
	})

	It("returns -2 when no response arrives within the timeout", func() {
		release := make(chan struct{})
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		})
		defer func() {
			close(release)
			stop()
		}()

		c := client.New("test-client-timeout", host, port, false, nil)
		Eventually(c.IsConnected, time.Second, 10*time.Millisecond).Should(BeTrue())

		resp := c.Send(http.MethodPost, "/slow", nil, nil, 80*time.Millisecond)
		Expect(resp.StatusCode).To(Equal(client.StatusTimeout))
	})

	It("invokes OnResponseTimeout when a request times out", func() {
		release := make(chan struct{})
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		})
		defer func() {
			close(release)
			stop()
		}()

		c := client.New("test-client-hook", host, port, false, nil)
		Eventually(c.IsConnected, time.Second, 10*time.Millisecond).Should(BeTrue())

		called := make(chan struct{}, 1)
		c.OnResponseTimeout = func() { called <- struct{}{} }

		resp := c.Send(http.MethodPost, "/slow", nil, nil, 80*time.Millisecond)
		Expect(resp.StatusCode).To(Equal(client.StatusTimeout))
		Eventually(called, time.Second).Should(Receive())
	})

	It("returns -1 while the connection is down", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		c := client.New("test-client-reconnect", host, port, false, nil)
		Eventually(c.IsConnected, time.Second, 10*time.Millisecond).Should(BeTrue())

		stop()
		Eventually(c.IsConnected, 2*time.Second, 10*time.Millisecond).Should(BeFalse())

		resp := c.Send(http.MethodGet, "/items", nil, nil, 200*time.Millisecond)
		Expect(resp.StatusCode).To(Equal(client.StatusConnectionError))
	})

	It("reports connection status as a string", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		defer stop()

		c := client.New("test-client-status", host, port, false, nil)
		Eventually(func() string { return c.ConnectionStatus() }, time.Second, 10*time.Millisecond).Should(Equal("OPEN"))
	})
})

var _ = Describe("Connection", func() {
	It("transitions NOT_OPEN -> OPEN against a live server", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		defer stop()

		conn := client.NewConnection(host, port, false, nil)
		Expect(conn.WaitToBeConnected(time.Second)).To(BeTrue())
		Expect(conn.Status()).To(Equal(client.Open))
		Expect(conn.AsString()).To(ContainSubstring("OPEN"))
	})

	It("transitions NOT_OPEN -> CLOSED against a dead address", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		_, port, _ := net.SplitHostPort(ln.Addr().String())
		Expect(ln.Close()).To(Succeed())

		conn := client.NewConnection("127.0.0.1", port, false, nil)
		Expect(conn.WaitToBeConnected(time.Second)).To(BeFalse())
		Expect(conn.Status()).To(Equal(client.Closed))
	})

	It("invokes the OnClose callback exactly once, even if Close is called twice", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		defer stop()

		conn := client.NewConnection(host, port, false, nil)
		Expect(conn.WaitToBeConnected(time.Second)).To(BeTrue())

		called := make(chan struct{}, 2)
		conn.OnClose(func(c *client.Connection) { called <- struct{}{} })

		conn.Close()
		conn.Close()

		Eventually(called, time.Second).Should(Receive())
		Consistently(called, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("Close is idempotent and WaitToBeDisconnected observes it", func() {
		host, port, stop := startH2CServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		defer stop()

		conn := client.NewConnection(host, port, false, nil)
		Expect(conn.WaitToBeConnected(time.Second)).To(BeTrue())

		conn.Close()
		Expect(func() { conn.Close() }).NotTo(Panic())
		Expect(conn.WaitToBeDisconnected(time.Second)).To(BeTrue())
		Expect(conn.Status()).To(Equal(client.Closed))
	})
})

var _ = Describe("sentinel status codes", func() {
	It("are distinct negative values", func() {
		Expect(client.StatusConnectionError).To(Equal(-1))
		Expect(client.StatusTimeout).To(Equal(-2))
		Expect(client.StatusSubmitError).To(Equal(-3))
		Expect(client.StatusStreamClosedPrematurely).To(Equal(-4))
	})
})

