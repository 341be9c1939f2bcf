// Package tlsutil wraps an http.Transport so outbound connections present a
// real Chrome TLS ClientHello instead of the Go crypto/tls fingerprint, which
// the remote platform's edge is known to flag.
package tlsutil

import (
	"context"
	"net"
	"net/http"

	utls "github.com/refraction-networking/utls"
)

// ChromeHello is the fingerprint matching the Chrome User-Agent the client
// presents on every request.
var ChromeHello = utls.HelloChrome_120

// NewUTLSRoundTripper creates an http.RoundTripper that performs the TLS
// handshake with the given ClientHello fingerprint. A nil baseTransport uses a
// clone of http.DefaultTransport.
func NewUTLSRoundTripper(clientHelloID utls.ClientHelloID, baseTransport *http.Transport) http.RoundTripper {
	if baseTransport == nil {
		baseTransport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &utlsRoundTripper{
		base:          baseTransport,
		clientHelloID: clientHelloID,
	}
}

type utlsRoundTripper struct {
	base          *http.Transport
	clientHelloID utls.ClientHelloID
}

func (u *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone per request: DialTLSContext captures the request's hostname.
	transport := u.base.Clone()
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		uConn := utls.UClient(conn, &utls.Config{
			ServerName: req.URL.Hostname(),
		}, u.clientHelloID)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return uConn, nil
	}
	return transport.RoundTrip(req)
}
