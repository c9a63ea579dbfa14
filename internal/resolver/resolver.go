// Package resolver implements the pluggable endpoint resolver (§4.G):
// the connection manager consults it once per connect attempt and
// never holds more than one resolved endpoint active at a time.
package resolver

import (
	"context"
	"fmt"
)

// Endpoint is a resolved TCP address to connect to.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// Resolver is the §4.G contract.
type Resolver interface {
	// NextEndpoint yields the address to connect to next.
	NextEndpoint(ctx context.Context) (Endpoint, error)
	// MarkFailed records that a connect attempt to ep did not
	// succeed, so future selections can avoid it.
	MarkFailed(ep Endpoint)
	// MarkReachable records that ep accepted a connection.
	MarkReachable(ep Endpoint)
}

// Static always returns the same configured endpoint: the default
// implementation named in §4.G and §6's "address" setting.
type Static struct {
	endpoint Endpoint
}

// NewStatic builds a Static resolver for host:port.
func NewStatic(host string, port int) *Static {
	return &Static{endpoint: Endpoint{Host: host, Port: port}}
}

func (s *Static) NextEndpoint(context.Context) (Endpoint, error) { return s.endpoint, nil }
func (s *Static) MarkFailed(Endpoint)                            {}
func (s *Static) MarkReachable(Endpoint)                         {}
