package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/wire"
)

// ContinuousResolver keeps an up-to-date view of the streams matching
// a filter. It queries the network in the background and ages streams
// out after forget_after without an advertisement, so Results is a
// cheap snapshot rather than a blocking network operation.
type ContinuousResolver struct {
	r      *Resolver
	filter Filter
	conn   *net.UDPConn

	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	streams map[string]seenStream // keyed by stream UID
}

type seenStream struct {
	desc     *descriptor.StreamDescriptor
	lastSeen time.Time
}

// Continuous starts a background resolver for the filter. Close it to
// release the socket and the goroutines.
func (r *Resolver) Continuous(filter Filter) (*ContinuousResolver, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	conn, targets, err := r.openQuerySocket()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	c := &ContinuousResolver{
		r:       r,
		filter:  filter,
		conn:    conn,
		cancel:  cancel,
		group:   group,
		streams: make(map[string]seenStream),
	}

	query := wire.Query{
		QueryID:   uuid.NewString(),
		ReplyPort: conn.LocalAddr().(*net.UDPAddr).Port,
		Mode:      filter.Mode,
		Key:       filter.Key,
		Value:     filter.Value,
		Predicate: filter.Predicate,
	}

	group.Go(func() error { return c.queryLoop(ctx, query.Encode(), targets) })
	group.Go(func() error { return c.replyLoop(query.QueryID) })
	group.Go(func() error {
		// Socket teardown is what unblocks the reply loop.
		<-ctx.Done()
		return conn.Close()
	})

	return c, nil
}

// Results returns the streams currently visible: heard from within the
// forget window. The slice is a fresh snapshot owned by the caller.
func (c *ContinuousResolver) Results() []*descriptor.StreamDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*descriptor.StreamDescriptor, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s.desc)
	}
	return out
}

// Close stops the background loops and releases the socket.
func (c *ContinuousResolver) Close() error {
	c.cancel()
	if err := c.group.Wait(); err != nil && !isClosedConn(err) {
		return errors.Wrap(err, "ContinuousResolver", "Close", "background loop failed")
	}
	return nil
}

func (c *ContinuousResolver) queryLoop(ctx context.Context, payload []byte, targets []*net.UDPAddr) error {
	ticker := time.NewTicker(c.r.cfg.QueryInterval)
	defer ticker.Stop()

	c.r.sendBurst(c.conn, payload, targets)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.r.sendBurst(c.conn, payload, targets)
			c.evictStale()
		}
	}
}

func (c *ContinuousResolver) replyLoop(queryID string) error {
	buf := make([]byte, datagramBufBytes)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosedConn(err) {
				return nil
			}
			return errors.Wrap(err, "ContinuousResolver", "replyLoop", "reply read failed")
		}

		reply, err := wire.DecodeReply(buf[:n])
		if err != nil || reply.QueryID != queryID {
			continue
		}
		c.r.metrics.RepliesReceived.Inc()

		d, err := descriptor.FromXML(reply.InfoXML)
		if err != nil {
			continue
		}
		d.SetEndpoint(reply.Endpoint)

		c.mu.Lock()
		c.streams[d.UID()] = seenStream{desc: d, lastSeen: time.Now()}
		visible := len(c.streams)
		c.mu.Unlock()
		c.r.metrics.StreamsVisible.Set(float64(visible))
	}
}

// evictStale forgets streams not heard from within forget_after.
func (c *ContinuousResolver) evictStale() {
	cutoff := time.Now().Add(-c.r.cfg.ForgetAfter)

	c.mu.Lock()
	for uid, s := range c.streams {
		if s.lastSeen.Before(cutoff) {
			delete(c.streams, uid)
		}
	}
	visible := len(c.streams)
	c.mu.Unlock()
	c.r.metrics.StreamsVisible.Set(float64(visible))
}

func isClosedConn(err error) bool {
	return err != nil && stderrors.Is(err, net.ErrClosed)
}
