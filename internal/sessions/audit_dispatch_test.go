package sessions

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/audit"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/users"
)

// stalledSink never answers until the delivery context is cancelled.
type stalledSink struct {
	canceled atomic.Int32
}

func (s *stalledSink) Record(ctx context.Context, e audit.Event) error {
	<-ctx.Done()
	s.canceled.Add(1)
	return ctx.Err()
}

func newDispatchedService(t *testing.T, sink audit.Sink) (*Service, *users.MemoryRepository, *audit.Dispatcher) {
	t.Helper()
	codec, err := tokens.NewCodec(testSecret, "gogotex-auth")
	require.NoError(t, err)
	repo := users.NewMemoryRepository()
	d := audit.NewDispatcher(sink, audit.DispatcherConfig{BufferSize: 8, DropIfFull: true, DeliveryTimeout: 100 * time.Millisecond})
	return NewService(codec, repo, NewMemoryBlacklist(nil), d), repo, d
}

func TestGenerateTokenPair_StalledAuditSinkDoesNotDelayIssuance(t *testing.T) {
	sink := &stalledSink{}
	svc, repo, d := newDispatchedService(t, sink)
	f := &fixture{users: repo}
	u := f.newUser(t, "stalled-audit")
	ctx := context.Background()

	start := time.Now()
	pair, err := svc.GenerateTokenPair(ctx, u.ID, nil)
	require.NoError(t, err)
	next, err := svc.RefreshAccessToken(ctx, pair.RefreshToken, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, d.Close())
	require.Equal(t, int32(3), sink.canceled.Load(), "issued, issued and refreshed events were each bounded by the delivery timeout")
}

func TestGenerateTokenPair_UnresponsiveKafkaBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	// accept and never answer
	go func() {
		var held []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range held {
					_ = c.Close()
				}
				return
			}
			held = append(held, conn)
		}
	}()

	svc, repo, d := newDispatchedService(t, audit.NewKafkaSink([]string{ln.Addr().String()}, "auth-audit"))
	f := &fixture{users: repo}
	u := f.newUser(t, "kafka-hung")

	start := time.Now()
	pair, err := svc.GenerateTokenPair(context.Background(), u.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.NoError(t, d.Close())
}
