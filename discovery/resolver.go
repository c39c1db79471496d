package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/metric"
	"github.com/c360/labstream/wire"
)

// Filter selects which streams a resolve collects.
type Filter struct {
	Mode      wire.QueryMode
	Key       string
	Value     string
	Predicate string
}

// All matches every stream on the network.
func All() Filter { return Filter{Mode: wire.QueryAll} }

// ByProperty matches streams whose named hosting field equals value.
func ByProperty(key, value string) Filter {
	return Filter{Mode: wire.QueryProperty, Key: key, Value: value}
}

// ByPredicate matches streams satisfying an XPath-style predicate.
func ByPredicate(pred string) Filter {
	return Filter{Mode: wire.QueryPredicate, Predicate: pred}
}

func (f Filter) validate() error {
	switch f.Mode {
	case wire.QueryAll:
		return nil
	case wire.QueryProperty:
		if f.Key == "" {
			return errors.WrapInvalid(
				fmt.Errorf("property filter without key: %w", errors.ErrInvalidArgument),
				"Resolver", "Resolve", "filter validation")
		}
		return nil
	case wire.QueryPredicate:
		// Predicate syntax errors surface locally, before any datagram
		// goes out. A probe descriptor is enough to drive the parser.
		probe, err := descriptor.New("probe", "", 1, 0, descriptor.Float32, "")
		if err != nil {
			return errors.WrapInternal(err, "Resolver", "Resolve", "probe descriptor")
		}
		if _, err := probe.MatchesPredicate(f.Predicate); err != nil {
			return err
		}
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("unknown filter mode %q: %w", f.Mode, errors.ErrInvalidArgument),
		"Resolver", "Resolve", "filter validation")
}

// Resolver collects stream descriptors advertised on the network. It
// is stateless between calls and safe for concurrent use.
type Resolver struct {
	cfg     config.DiscoveryConfig
	log     *slog.Logger
	metrics *metric.EngineMetrics
}

// NewResolver builds a resolver over the given discovery
// configuration.
func NewResolver(cfg config.DiscoveryConfig, log *slog.Logger, m *metric.EngineMetrics) *Resolver {
	return &Resolver{
		cfg:     cfg,
		log:     log.With("component", "resolver"),
		metrics: m,
	}
}

// Resolve queries the network until at least minimum distinct streams
// matching the filter are known or the timeout expires, whichever
// comes first. A timeout with fewer results is not an error: the
// partial result is returned with a nil error. With minimum 0 the call
// always waits out the full timeout and returns everything heard.
//
// Results are capped at the configured max_results; replies beyond the
// cap are counted and discarded.
func (r *Resolver) Resolve(ctx context.Context, filter Filter, minimum int, timeout time.Duration) ([]*descriptor.StreamDescriptor, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if minimum < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("minimum %d must not be negative: %w", minimum, errors.ErrInvalidArgument),
			"Resolver", "Resolve", "argument validation")
	}
	if timeout <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("timeout %s must be positive: %w", timeout, errors.ErrInvalidArgument),
			"Resolver", "Resolve", "argument validation")
	}

	conn, targets, err := r.openQuerySocket()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := wire.Query{
		QueryID:   uuid.NewString(),
		ReplyPort: conn.LocalAddr().(*net.UDPAddr).Port,
		Mode:      filter.Mode,
		Key:       filter.Key,
		Value:     filter.Value,
		Predicate: filter.Predicate,
	}
	payload := query.Encode()

	limiter := rate.NewLimiter(rate.Every(r.cfg.QueryInterval), 1)
	deadline := time.Now().Add(timeout)
	found := make(map[string]*descriptor.StreamDescriptor)
	buf := make([]byte, datagramBufBytes)

	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		if limiter.Allow() {
			r.sendBurst(conn, payload, targets)
		}

		slice := min(r.cfg.QueryInterval, time.Until(deadline))
		_ = conn.SetReadDeadline(time.Now().Add(slice))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return collect(found), errors.Wrap(err, "Resolver", "Resolve", "reply read failed")
		}

		r.handleReply(query.QueryID, buf[:n], found)
		if minimum > 0 && len(found) >= minimum {
			break
		}
	}

	return collect(found), nil
}

// openQuerySocket binds the ephemeral reply socket and computes the
// burst targets: the multicast group, if configured, plus every known
// peer.
func (r *Resolver) openQuerySocket() (*net.UDPConn, []*net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Resolver", "Resolve", "reply socket bind failed")
	}

	var targets []*net.UDPAddr
	if r.cfg.MulticastGroup != "" {
		group := net.ParseIP(r.cfg.MulticastGroup)
		if group == nil {
			conn.Close()
			return nil, nil, errors.WrapInvalid(
				fmt.Errorf("multicast group %q: %w", r.cfg.MulticastGroup, errors.ErrInvalidArgument),
				"Resolver", "Resolve", "group validation")
		}
		targets = append(targets, &net.UDPAddr{IP: group, Port: r.cfg.Port})
		if r.cfg.TTL > 0 {
			if err := ipv4.NewPacketConn(conn).SetMulticastTTL(r.cfg.TTL); err != nil {
				r.log.Debug("multicast ttl not applied", "ttl", r.cfg.TTL, "error", err)
			}
		}
	}
	for _, peer := range r.cfg.KnownPeers {
		addr, err := resolvePeer(peer, r.cfg.Port)
		if err != nil {
			r.log.Warn("skipping unresolvable peer", "peer", peer, "error", err)
			continue
		}
		targets = append(targets, addr)
	}

	if len(targets) == 0 {
		conn.Close()
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("no multicast group and no known peers: %w", errors.ErrInvalidArgument),
			"Resolver", "Resolve", "target validation")
	}
	return conn, targets, nil
}

func resolvePeer(peer string, defaultPort int) (*net.UDPAddr, error) {
	if !strings.Contains(peer, ":") {
		peer = fmt.Sprintf("%s:%d", peer, defaultPort)
	}
	return net.ResolveUDPAddr("udp4", peer)
}

func (r *Resolver) sendBurst(conn *net.UDPConn, payload []byte, targets []*net.UDPAddr) {
	for _, t := range targets {
		if _, err := conn.WriteToUDP(payload, t); err != nil {
			r.log.Debug("query send failed", "to", t.String(), "error", err)
			continue
		}
		r.metrics.QueriesSent.Inc()
	}
}

// handleReply folds one reply datagram into the result set, deduped by
// stream UID.
func (r *Resolver) handleReply(queryID string, data []byte, found map[string]*descriptor.StreamDescriptor) {
	reply, err := wire.DecodeReply(data)
	if err != nil {
		return
	}
	if reply.QueryID != queryID {
		// Late reply from an earlier burst.
		return
	}
	r.metrics.RepliesReceived.Inc()

	d, err := descriptor.FromXML(reply.InfoXML)
	if err != nil {
		r.log.Debug("undecodable reply descriptor", "error", err)
		return
	}
	if _, seen := found[d.UID()]; seen {
		return
	}
	if len(found) >= r.cfg.MaxResults {
		r.metrics.RepliesTruncated.Inc()
		return
	}
	d.SetEndpoint(reply.Endpoint)
	found[d.UID()] = d
}

func collect(found map[string]*descriptor.StreamDescriptor) []*descriptor.StreamDescriptor {
	out := make([]*descriptor.StreamDescriptor, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	return out
}
