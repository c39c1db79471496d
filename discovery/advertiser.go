// Package discovery makes streams findable on the local network.
// Outlets register their bound descriptors with an Advertiser that
// answers UDP query datagrams; inlets use a Resolver to collect the
// replies, either as a one-shot wait-for-results call or continuously
// in the background.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/wire"
)

const datagramBufBytes = 64 << 10

// Advertiser answers discovery queries for the streams registered with
// it. One advertiser serves all outlets of an engine instance.
//
// With a multicast group configured it joins the group on the
// discovery port. Without one it binds a plain unicast socket on
// loopback, which peers reach through their known_peers list; tests
// run this way so they never touch the network.
type Advertiser struct {
	cfg  config.DiscoveryConfig
	log  *slog.Logger
	conn *net.UDPConn

	mu      sync.Mutex
	streams map[string]*advertised // keyed by stream UID
	closed  bool

	done chan struct{}
}

type advertised struct {
	desc     *descriptor.StreamDescriptor
	shortXML []byte
}

// NewAdvertiser binds the discovery socket and starts answering
// queries.
func NewAdvertiser(cfg config.DiscoveryConfig, log *slog.Logger) (*Advertiser, error) {
	var conn *net.UDPConn
	var err error

	if cfg.MulticastGroup != "" {
		group := net.ParseIP(cfg.MulticastGroup)
		if group == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("multicast group %q: %w", cfg.MulticastGroup, errors.ErrInvalidArgument),
				"Advertiser", "NewAdvertiser", "group validation")
		}
		conn, err = net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: group, Port: cfg.Port})
		if err != nil {
			return nil, errors.Wrap(err, "Advertiser", "NewAdvertiser", "multicast listen failed")
		}
	} else {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.Port})
		if err != nil {
			return nil, errors.Wrap(err, "Advertiser", "NewAdvertiser", "unicast listen failed")
		}
	}

	a := &Advertiser{
		cfg:     cfg,
		log:     log.With("component", "advertiser"),
		conn:    conn,
		streams: make(map[string]*advertised),
		done:    make(chan struct{}),
	}
	go a.serve()

	a.log.Info("advertiser listening", "addr", conn.LocalAddr().String())
	return a, nil
}

// Addr returns the bound discovery address. Useful with the unicast
// fallback, where the port is usually ephemeral.
func (a *Advertiser) Addr() string {
	return a.conn.LocalAddr().String()
}

// Register makes a bound stream answerable. The descriptor must carry
// its data endpoint annotation; replies hand that endpoint to
// resolvers.
func (a *Advertiser) Register(d *descriptor.StreamDescriptor) error {
	if !d.Bound() {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor is not bound: %w", errors.ErrInvalidArgument),
			"Advertiser", "Register", "descriptor validation")
	}
	if d.Endpoint() == "" {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor has no data endpoint: %w", errors.ErrInvalidArgument),
			"Advertiser", "Register", "endpoint validation")
	}

	// Discovery replies carry the short form: hosting leaves without
	// the extended metadata subtree, keeping replies within a single
	// datagram. The full descriptor is served over the data session.
	short := d.Clone()
	desc := short.Desc()
	for ch := desc.FirstChildAny(); !ch.Empty(); ch = desc.FirstChildAny() {
		desc.RemoveChildNode(ch)
	}
	xml, err := short.ToXML()
	if err != nil {
		return errors.WrapInternal(err, "Advertiser", "Register", "short info encode failed")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Wrap(errors.ErrResolverClosed, "Advertiser", "Register", "advertiser closed")
	}
	a.streams[d.UID()] = &advertised{desc: d, shortXML: xml}
	return nil
}

// Unregister removes a stream by its instance UID.
func (a *Advertiser) Unregister(uid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streams, uid)
}

// Close stops answering queries and releases the socket.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.conn.Close()
	<-a.done
	return err
}

func (a *Advertiser) serve() {
	defer close(a.done)
	buf := make([]byte, datagramBufBytes)

	for {
		n, src, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed, or transient read failure; either way the
			// loop only ends on Close.
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				return
			}
			a.log.Debug("query read failed", "error", err)
			continue
		}

		query, err := wire.DecodeQuery(buf[:n])
		if err != nil {
			// Stray datagrams on the discovery port are normal; drop.
			continue
		}
		a.answer(query, src)
	}
}

func (a *Advertiser) answer(q wire.Query, src *net.UDPAddr) {
	replyTo := &net.UDPAddr{IP: src.IP, Port: q.ReplyPort}

	a.mu.Lock()
	matches := make([]*advertised, 0, len(a.streams))
	for _, s := range a.streams {
		if a.matches(q, s.desc) {
			matches = append(matches, s)
		}
	}
	a.mu.Unlock()

	for _, s := range matches {
		reply := wire.Reply{
			QueryID:  q.QueryID,
			Endpoint: s.desc.Endpoint(),
			InfoXML:  s.shortXML,
		}
		if _, err := a.conn.WriteToUDP(reply.Encode(), replyTo); err != nil {
			a.log.Debug("reply send failed", "to", replyTo.String(), "error", err)
		}
	}
}

func (a *Advertiser) matches(q wire.Query, d *descriptor.StreamDescriptor) bool {
	switch q.Mode {
	case wire.QueryAll:
		return true
	case wire.QueryProperty:
		return d.MatchesProperty(q.Key, q.Value)
	case wire.QueryPredicate:
		ok, err := d.MatchesPredicate(q.Predicate)
		if err != nil {
			a.log.Debug("unparsable predicate in query", "predicate", q.Predicate, "error", err)
			return false
		}
		return ok
	}
	return false
}
