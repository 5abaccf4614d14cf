package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/wire"
)

func change(id types.ChangeID, sector uint16) *wire.Change {
	data := make([]byte, types.SectorSize)
	for i := range data {
		data[i] = byte(sector) + byte(i)
	}
	return &wire.Change{ChangeID: id, Sector: sector, Data: data}
}

func TestEnvelope(t *testing.T) {
	p := change(7, 3)
	frame := Wrap(42, p).Frame()
	require.Len(t, frame, headerSize+wire.ChangeSize+trailerSize)
	require.Equal(t, []byte{0x1A, 0x01, 0x4A, 0xF5, 0, 42, byte(wire.TypeBDSync), byte(wire.SubtypeChange)}, frame[:headerSize])

	env, err := Unframe(frame)
	require.NoError(t, err)
	require.Equal(t, uint16(42), env.Stream)
	require.Equal(t, wire.TypeBDSync, env.Type)
	require.Equal(t, wire.SubtypeChange, env.Subtype)
	decoded, err := wire.Decode(env.Subtype, env.Payload)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestUnframeErrors(t *testing.T) {
	frame := Wrap(1, &wire.CatalogPointer{Delay: time.Second}).Frame()

	_, err := Unframe(frame[:headerSize+trailerSize-1])
	require.ErrorIs(t, err, ErrTruncated)

	bad := append([]byte(nil), frame...)
	bad[0] ^= 0xff
	_, err = Unframe(bad)
	require.ErrorIs(t, err, ErrBadMagic)

	for i := 4; i < len(frame); i++ {
		bad := append([]byte(nil), frame...)
		bad[i] ^= 0x01
		_, err = Unframe(bad)
		require.ErrorIs(t, err, ErrBadChecksum, "flipped byte %d", i)
	}
}

func TestLoopback(t *testing.T) {
	lb := NewLoopback(5)
	var got [2][]wire.Subtype
	for i := range got {
		lb.Subscribe(func(env *Envelope) error {
			require.Equal(t, uint16(5), env.Stream)
			got[i] = append(got[i], env.Subtype)
			return nil
		})
	}
	// the second subscriber loses every other packet
	lb.SetFilter(func(subscriber, n int, _ wire.Packet) bool {
		return subscriber == 0 || n%2 == 0
	})
	ctx := context.Background()
	require.NoError(t, lb.Broadcast(ctx, &wire.CatalogPointer{}))
	require.NoError(t, lb.Broadcast(ctx, change(1, 0)))
	require.NoError(t, lb.Broadcast(ctx, &wire.OlderMarker{}))

	require.Equal(t, []wire.Subtype{wire.SubtypeCatalogPointer, wire.SubtypeChange, wire.SubtypeOlderMarker}, got[0])
	require.Equal(t, []wire.Subtype{wire.SubtypeCatalogPointer, wire.SubtypeOlderMarker}, got[1])
}

func TestLoopbackHandlerError(t *testing.T) {
	lb := NewLoopback(0)
	stop := errors.New("stop")
	lb.Subscribe(func(*Envelope) error { return stop })
	require.ErrorIs(t, lb.Broadcast(context.Background(), &wire.CatalogPointer{}), stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, lb.Broadcast(ctx, &wire.CatalogPointer{}), context.Canceled)
}

func TestUDP(t *testing.T) {
	l, err := ListenUDP("127.0.0.1:0", 9)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	other, err := NewUDPBroadcaster(10, []string{l.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	b, err := NewUDPBroadcaster(9, []string{l.Addr().String()}, WithRateLimit(1000, 10))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, other.Broadcast(ctx, &wire.CatalogPointer{}))
	p := change(3, 1)
	require.NoError(t, b.Broadcast(ctx, p))

	env, err := l.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint16(9), env.Stream)
	decoded, err := wire.Decode(env.Subtype, env.Payload)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestUDPRecvCanceled(t *testing.T) {
	l, err := ListenUDP("127.0.0.1:0", 1)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoDestination(t *testing.T) {
	_, err := NewUDPBroadcaster(1, nil)
	require.Error(t, err)
}
