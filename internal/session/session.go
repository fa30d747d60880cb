// Package session manages independent hub sessions. Each session owns a
// ledger connection, a wallet handle, and a balance subscription engine,
// and is isolated from every other session.
package session

import (
	"context"
	"sync"

	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/Klingon-tech/klingnet-hub/internal/subscription"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
)

// Session bundles the per-session resources. Conn, Wallet, and Subs are
// populated lazily as the client connects, creates a wallet, and
// subscribes; any of them may be nil. Mu serializes all hub operations on
// the session.
type Session struct {
	ID string

	Mu     sync.Mutex
	Conn   *ledger.Connection
	Wallet *wallet.Handle
	Subs   *subscription.Engine

	closed bool
}

// Close tears the session down in a fixed order: connection first, then
// wallet, then subscription state. A failing step is logged and teardown
// continues; Close never reports an error to the caller. Closing twice is
// a no-op.
func (s *Session) Close(ctx context.Context) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	logger := klog.WithSession(s.ID)

	if s.Conn != nil {
		if err := s.Conn.Close(); err != nil {
			logger.Warn().Err(err).Msg("connection close failed during teardown")
		}
		s.Conn = nil
	}
	if s.Wallet != nil {
		if err := s.Wallet.Close(); err != nil {
			logger.Warn().Err(err).Msg("wallet close failed during teardown")
		}
		s.Wallet = nil
	}
	if s.Subs != nil {
		if err := s.Subs.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("subscription close failed during teardown")
		}
		s.Subs = nil
	}

	logger.Info().Msg("session closed")
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.closed
}
