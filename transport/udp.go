package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spacemeshos/go-bdsync/wire"
)

// pollInterval bounds how long a read blocks before the context is checked.
const pollInterval = 500 * time.Millisecond

type Opt func(*options)

type options struct {
	logger  *zap.Logger
	limiter *rate.Limiter
}

func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRateLimit caps the number of datagrams sent per second. Zero means no
// limit.
func WithRateLimit(perSecond float64, burst int) Opt {
	return func(o *options) {
		if perSecond > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func newOptions(opts []Opt) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UDPBroadcaster sends every packet to a fixed list of destinations, which
// are usually broadcast addresses.
type UDPBroadcaster struct {
	options
	stream uint16
	conn   *net.UDPConn
	dests  []*net.UDPAddr
}

// NewUDPBroadcaster resolves dests and opens an unbound UDP socket.
func NewUDPBroadcaster(stream uint16, dests []string, opts ...Opt) (*UDPBroadcaster, error) {
	if len(dests) == 0 {
		return nil, errors.New("no destination configured")
	}
	b := &UDPBroadcaster{options: newOptions(opts), stream: stream}
	for _, d := range dests {
		addr, err := net.ResolveUDPAddr("udp", d)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		b.dests = append(b.dests, addr)
	}
	// ipv4 datagram sockets are created with SO_BROADCAST set
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	b.conn = conn
	return b, nil
}

// Broadcast frames p and sends it to every destination.
func (b *UDPBroadcaster) Broadcast(ctx context.Context, p wire.Packet) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	frame := Wrap(b.stream, p).Frame()
	for _, d := range b.dests {
		if _, err := b.conn.WriteToUDP(frame, d); err != nil {
			sentFailed.Inc()
			return fmt.Errorf("send to %v: %w", d, err)
		}
		sentOK.Inc()
	}
	b.logger.Debug("packet sent", zap.Stringer("subtype", p.Subtype()), zap.Int("bytes", len(frame)))
	return nil
}

func (b *UDPBroadcaster) Close() error {
	return b.conn.Close()
}

// UDPListener receives datagrams of one stream.
type UDPListener struct {
	options
	stream uint16
	conn   *net.UDPConn
	buf    []byte
}

// ListenUDP binds addr, for example ":5000".
func ListenUDP(addr string, stream uint16, opts ...Opt) (*UDPListener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &UDPListener{
		options: newOptions(opts),
		stream:  stream,
		conn:    conn,
		buf:     make([]byte, MaxDatagram+1),
	}, nil
}

func (l *UDPListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Recv returns the next valid envelope of the stream. Invalid datagrams are
// dropped. The payload is valid until the next call.
func (l *UDPListener) Recv(ctx context.Context) (*Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deadline := time.Now().Add(pollInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := l.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, from, err := l.conn.ReadFromUDP(l.buf)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read datagram: %w", err)
		}
		env, err := Unframe(l.buf[:n])
		if err != nil {
			recvMalformed.Inc()
			l.logger.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		if env.Stream != l.stream {
			recvForeign.Inc()
			continue
		}
		recvOK.Inc()
		return env, nil
	}
}

func (l *UDPListener) Close() error {
	return l.conn.Close()
}
