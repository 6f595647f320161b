// Package proxy is the reference host for the capture pipeline: a forward
// HTTP proxy that hands every completed request/response exchange to a
// sink. Plain HTTP traffic is observed and captured; CONNECT requests are
// tunneled opaquely.
package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sadopc/apicap/internal/capture"
)

// maxBodyBytes caps how much of a request or response body is retained for
// capture. Larger bodies are truncated; delivery to the client is never
// truncated.
const maxBodyBytes = 4 << 20

// ExchangeSink receives completed exchanges. The capture pipeline
// implements it.
type ExchangeSink interface {
	OnExchange(ctx context.Context, ex *capture.Exchange)
}

// Server is a forward HTTP proxy.
type Server struct {
	sink   ExchangeSink
	log    *slog.Logger
	client *http.Client

	// deliver hands a finished exchange to the sink. It is asynchronous by
	// default so capture never sits on the serving path.
	deliver func(*capture.Exchange)
}

// New creates a proxy server feeding the given sink.
func New(sink ExchangeSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sink: sink,
		log:  logger,
		client: &http.Client{
			// The proxy relays redirects verbatim; following them here
			// would hide exchanges from the client and the capture.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 60 * time.Second,
		},
	}
	s.deliver = func(ex *capture.Exchange) {
		go s.sink.OnExchange(context.Background(), ex)
	}
	return s
}

// ServeHTTP handles one proxied request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.tunnel(w, r)
		return
	}

	if !r.URL.IsAbs() {
		http.Error(w, "this is a forward proxy; use absolute-form requests", http.StatusBadRequest)
		return
	}

	start := time.Now()

	reqBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadGateway)
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), readerFor(reqBody))
	if err != nil {
		http.Error(w, "building upstream request", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)

	resp, err := s.client.Do(out)
	if err != nil {
		s.log.Warn("upstream request failed", "method", r.Method, "url", r.URL.String(), "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		s.log.Warn("reading upstream body", "url", r.URL.String(), "error", err)
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	// Relay whatever exceeds the capture cap without retaining it.
	io.Copy(w, resp.Body)

	ex := s.buildExchange(r, reqBody, resp, respBody, start)
	s.deliver(ex)
}

func (s *Server) buildExchange(r *http.Request, reqBody []byte, resp *http.Response, respBody []byte, start time.Time) *capture.Exchange {
	ex := capture.NewExchange(r.Method, r.URL.String())
	ex.ID = uuid.New().String()
	ex.Headers = r.Header.Clone()
	ex.RequestBody = reqBody
	ex.Status = resp.StatusCode
	ex.RespHeaders = resp.Header.Clone()
	ex.RespBody = respBody
	ex.Start = start
	ex.Duration = time.Since(start)

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ex.ClientAddr = host
	} else {
		ex.ClientAddr = r.RemoteAddr
	}
	return ex
}

// tunnel relays a CONNECT request as an opaque byte stream. TLS traffic is
// not intercepted, so nothing inside the tunnel is captured.
func (s *Server) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, "cannot reach upstream", http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}

	client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	go relay(upstream, client)
	go relay(client, upstream)
}

func relay(dst io.WriteCloser, src io.ReadCloser) {
	defer dst.Close()
	defer src.Close()
	io.Copy(dst, src)
}

// hopByHopHeaders are stripped when relaying; they describe one connection,
// not the end-to-end exchange.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Keep-Alive":          {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func readerFor(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}
