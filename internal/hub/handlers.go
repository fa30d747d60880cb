package hub

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	"github.com/Klingon-tech/klingnet-hub/internal/session"
	"github.com/Klingon-tech/klingnet-hub/internal/spend"
	"github.com/Klingon-tech/klingnet-hub/internal/subscription"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// classify maps a handler error onto the hub's JSON-RPC error codes. The
// original diagnostic is preserved in Error.Data for downstream failures
// so callers can still see the engine's own text.
func classify(err error) *Error {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrNoUTXOs):
		return &Error{Code: CodeInsufficientFunds, Message: err.Error()}
	case errors.Is(err, spend.ErrInvalidAmount),
		errors.Is(err, spend.ErrInvalidRecipient),
		errors.Is(err, spend.ErrInvalidFeeSpec),
		errors.Is(err, spend.ErrUnknownAddress),
		errors.Is(err, wallet.ErrIndexOutOfRange):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, ledger.ErrNotConnected), errors.Is(err, engine.ErrNotConnected):
		return &Error{Code: CodeInvalidRequest, Message: "session is not connected"}
	case errors.Is(err, wallet.ErrClosed):
		return &Error{Code: CodeInvalidRequest, Message: "session wallet is closed"}
	case errors.Is(err, engine.ErrBuildFailed),
		errors.Is(err, engine.ErrSubmitFailed),
		errors.Is(err, engine.ErrQueryFailed):
		return &Error{Code: CodeEngineFailure, Message: "engine operation failed", Data: err.Error()}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// sessionFor resolves and locks the session addressed by the params. The
// caller must release the returned unlock func.
func (s *Server) sessionFor(id string) (*session.Session, func()) {
	sess := s.registry.GetOrCreate(id)
	sess.Mu.Lock()
	return sess, sess.Mu.Unlock
}

func requireConn(sess *session.Session) (*ledger.Connection, *Error) {
	if sess.Conn == nil || !sess.Conn.Connected() {
		return nil, &Error{Code: CodeInvalidRequest, Message: "session is not connected, call hub_connect first"}
	}
	return sess.Conn, nil
}

func requireWallet(sess *session.Session) (*wallet.Handle, *Error) {
	if sess.Wallet == nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: "session has no wallet, call wallet_create or wallet_import first"}
	}
	return sess.Wallet, nil
}

// resetSubs drops the session's subscription engine. A replaced wallet or
// connection invalidates the engine's bound wallet and default addresses,
// so the next subscribe must start from a fresh one.
func (s *Server) resetSubs(ctx context.Context, sess *session.Session) {
	if sess.Subs == nil {
		return
	}
	if err := sess.Subs.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID).Msg("closing subscriptions failed")
	}
	sess.Subs = nil
}

func (s *Server) handleConnect(ctx context.Context, req *Request) (interface{}, *Error) {
	var p ConnectParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	network := s.cfg.Network
	if p.Network != "" {
		network = config.Network(p.Network)
		if !network.Valid() {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown network %q", p.Network)}
		}
	}
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = s.cfg.Nodes.Endpoint(network)
	}
	if endpoint == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("no endpoint configured for network %q", network)}
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	// Reconnecting replaces the session's existing connection. The
	// subscription engine goes first, while the old engine can still
	// process the unsubscribe.
	if sess.Conn != nil {
		s.resetSubs(ctx, sess)
		if err := sess.Conn.Close(); err != nil {
			s.logger.Warn().Err(err).Str("session", sess.ID).Msg("closing previous connection failed")
		}
		sess.Conn = nil
	}

	eng, err := s.dial(network, endpoint)
	if err != nil {
		return nil, classify(err)
	}
	sess.Conn = ledger.New(network, endpoint, eng)

	return ConnectResult{
		SessionID: sess.ID,
		Network:   string(network),
		Endpoint:  endpoint,
	}, nil
}

func (s *Server) handleDisconnect(ctx context.Context, req *Request) (interface{}, *Error) {
	var p SessionParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}
	removed := s.registry.Teardown(ctx, p.SessionID)
	return DisconnectResult{
		SessionID: session.Normalize(p.SessionID),
		Removed:   removed,
	}, nil
}

func (s *Server) handleSessions(req *Request) (interface{}, *Error) {
	return SessionsResult{Sessions: s.registry.List()}, nil
}

func (s *Server) handleWalletCreate(ctx context.Context, req *Request) (interface{}, *Error) {
	var p WalletCreateParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, classify(err)
	}

	network := s.cfg.Network
	if sess.Conn != nil {
		network = sess.Conn.Network()
	}
	w, err := wallet.NewFromMnemonic(network, mnemonic, p.Passphrase)
	if err != nil {
		return nil, classify(err)
	}

	// Subscriptions derived from the previous wallet die with it.
	s.resetSubs(ctx, sess)
	if sess.Wallet != nil {
		sess.Wallet.Close()
	}
	sess.Wallet = w

	res := WalletCreateResult{SessionID: sess.ID, Mnemonic: mnemonic}
	if addr, errp := s.firstAddress(sess); errp == nil {
		res.Address = addr
	}
	return res, nil
}

func (s *Server) handleWalletImport(ctx context.Context, req *Request) (interface{}, *Error) {
	var p WalletImportParam
	if errp := parseParams(req, &p); errp != nil {
		return nil, errp
	}
	if (p.Mnemonic == "") == (p.PrivateKey == "") {
		return nil, &Error{Code: CodeInvalidParams, Message: "exactly one of mnemonic or private_key is required"}
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	network := s.cfg.Network
	if sess.Conn != nil {
		network = sess.Conn.Network()
	}

	var (
		w   *wallet.Handle
		err error
	)
	if p.Mnemonic != "" {
		w, err = wallet.NewFromMnemonic(network, p.Mnemonic, p.Passphrase)
	} else {
		w, err = wallet.NewFromPrivateKey(network, p.PrivateKey)
	}
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	// Subscriptions derived from the previous wallet die with it.
	s.resetSubs(ctx, sess)
	if sess.Wallet != nil {
		sess.Wallet.Close()
	}
	sess.Wallet = w

	res := WalletImportResult{SessionID: sess.ID}
	if addr, errp := s.firstAddress(sess); errp == nil {
		res.Address = addr
	}
	return res, nil
}

// firstAddress derives the wallet's receive address at index 0. Requires
// a live connection for the deriver; returns an Error otherwise.
func (s *Server) firstAddress(sess *session.Session) (string, *Error) {
	conn, errp := requireConn(sess)
	if errp != nil {
		return "", errp
	}
	eng, err := conn.Engine()
	if err != nil {
		return "", classify(err)
	}
	addr, err := sess.Wallet.Address(eng, 0, false)
	if err != nil {
		return "", classify(err)
	}
	return addr.String(), nil
}

func (s *Server) handleWalletAddress(req *Request) (interface{}, *Error) {
	var p WalletAddressParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	w, errp := requireWallet(sess)
	if errp != nil {
		return nil, errp
	}
	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	eng, err := conn.Engine()
	if err != nil {
		return nil, classify(err)
	}

	addr, err := w.Address(eng, p.Index, p.Change)
	if err != nil {
		return nil, classify(err)
	}
	return WalletAddressResult{Address: addr.String(), Index: p.Index, Change: p.Change}, nil
}

// resolveQueryAddress turns an optional address param into a concrete
// address, defaulting to the wallet's first receive address.
func (s *Server) resolveQueryAddress(sess *session.Session, raw string) (types.Address, *Error) {
	if raw != "" {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
		}
		return addr, nil
	}

	w, errp := requireWallet(sess)
	if errp != nil {
		return types.Address{}, errp
	}
	conn, errp := requireConn(sess)
	if errp != nil {
		return types.Address{}, errp
	}
	eng, err := conn.Engine()
	if err != nil {
		return types.Address{}, classify(err)
	}
	addr, err := w.Address(eng, 0, false)
	if err != nil {
		return types.Address{}, classify(err)
	}
	return addr, nil
}

func (s *Server) handleWalletBalance(ctx context.Context, req *Request) (interface{}, *Error) {
	var p WalletBalanceParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	addr, errp := s.resolveQueryAddress(sess, p.Address)
	if errp != nil {
		return nil, errp
	}
	eng, err := conn.Engine()
	if err != nil {
		return nil, classify(err)
	}

	balance, err := eng.Balance(ctx, addr)
	if err != nil {
		return nil, classify(err)
	}
	return WalletBalanceResult{Address: addr.String(), Balance: balance}, nil
}

func (s *Server) handleWalletUTXOs(ctx context.Context, req *Request) (interface{}, *Error) {
	var p WalletUTXOsParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	addr, errp := s.resolveQueryAddress(sess, p.Address)
	if errp != nil {
		return nil, errp
	}
	eng, err := conn.Engine()
	if err != nil {
		return nil, classify(err)
	}

	entries, err := eng.UTXOs(ctx, []types.Address{addr})
	if err != nil {
		return nil, classify(err)
	}

	res := WalletUTXOsResult{Address: addr.String(), UTXOs: make([]UTXOResult, 0, len(entries))}
	for _, u := range entries {
		res.Total += u.Amount
		res.UTXOs = append(res.UTXOs, UTXOResult{
			TxID:       u.Outpoint.TxID.String(),
			Index:      u.Outpoint.Index,
			Address:    u.Address.String(),
			Amount:     u.Amount,
			BlockScore: u.BlockScore,
			IsCoinbase: u.IsCoinbase,
		})
	}
	return res, nil
}

func (s *Server) handleTxSend(ctx context.Context, req *Request) (interface{}, *Error) {
	var p TxSendParam
	if errp := parseParams(req, &p); errp != nil {
		return nil, errp
	}

	to, err := types.ParseAddress(p.To)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid recipient: %v", err)}
	}
	var payload []byte
	if p.Payload != "" {
		payload, err = hex.DecodeString(p.Payload)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "payload must be hex"}
		}
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	w, errp := requireWallet(sess)
	if errp != nil {
		return nil, errp
	}

	res, err := s.spender.Send(ctx, conn, w, spend.Request{
		From:   p.From,
		To:     to,
		Amount: p.Amount,
		Fee: spend.FeeSpec{
			Tier:        spend.Tier(p.FeeTier),
			CustomFee:   p.CustomFee,
			PriorityFee: p.PriorityFee,
		},
		Payload: payload,
	})
	if err != nil {
		return nil, classify(err)
	}

	return TxSendResult{
		TxID:      res.TxID.String(),
		FeePaid:   res.FeePaid,
		TargetFee: res.TargetFee,
		Mass:      res.Mass,
		Change:    res.Change,
		TxCount:   res.TxCount,
	}, nil
}

func (s *Server) handleFeeEstimate(ctx context.Context, req *Request) (interface{}, *Error) {
	var p FeeEstimateParam
	if errp := parseParams(req, &p); errp != nil {
		return nil, errp
	}
	to, err := types.ParseAddress(p.To)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid recipient: %v", err)}
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	w, errp := requireWallet(sess)
	if errp != nil {
		return nil, errp
	}

	est, err := s.spender.Estimate(ctx, conn, w, spend.Request{
		From:   p.From,
		To:     to,
		Amount: p.Amount,
	})
	if err != nil {
		return nil, classify(err)
	}

	tierFee := func(mult float64) uint64 {
		return uint64(math.Ceil(float64(est.BaseFee) * mult))
	}
	return FeeEstimateResult{
		BaseFee:       est.BaseFee,
		EstimatedMass: est.EstimatedMass,
		MassLimit:     est.MassLimit,
		LowFee:        tierFee(0.5),
		NormalFee:     tierFee(1.0),
		HighFee:       tierFee(2.0),
	}, nil
}

func parseAddresses(raw []string) ([]types.Address, *Error) {
	addrs := make([]types.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address %q: %v", s, err)}
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (s *Server) handleSubSubscribe(ctx context.Context, req *Request) (interface{}, *Error) {
	var p SubSubscribeParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}
	addrs, errp := parseAddresses(p.Addresses)
	if errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	conn, errp := requireConn(sess)
	if errp != nil {
		return nil, errp
	}
	// The wallet is only consulted to default the address list; explicit
	// addresses subscribe fine without one.
	if len(addrs) == 0 {
		if _, errp := requireWallet(sess); errp != nil {
			return nil, errp
		}
	}

	if sess.Subs == nil {
		sess.Subs = subscription.New(conn, sess.Wallet)
	}
	if err := sess.Subs.Subscribe(ctx, addrs, p.IncludeTransactions); err != nil {
		return nil, classify(err)
	}

	return SubSubscribeResult{
		SessionID: sess.ID,
		Addresses: addressStrings(sess.Subs.Monitored()),
	}, nil
}

func (s *Server) handleSubUnsubscribe(ctx context.Context, req *Request) (interface{}, *Error) {
	var p SubUnsubscribeParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}
	addrs, errp := parseAddresses(p.Addresses)
	if errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	// Unsubscribing a session that never subscribed is a silent no-op.
	if sess.Subs == nil {
		return SubUnsubscribeResult{SessionID: sess.ID, Addresses: []string{}, Active: false}, nil
	}
	if err := sess.Subs.Unsubscribe(ctx, addrs); err != nil {
		return nil, classify(err)
	}

	return SubUnsubscribeResult{
		SessionID: sess.ID,
		Addresses: addressStrings(sess.Subs.Monitored()),
		Active:    sess.Subs.Active(),
	}, nil
}

func (s *Server) handleSubStatus(ctx context.Context, req *Request) (interface{}, *Error) {
	var p SessionParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	if sess.Subs == nil {
		return SubStatusResult{SessionID: sess.ID, Active: false, Addresses: []SubAddressStatus{}}, nil
	}

	statuses, err := sess.Subs.Status(ctx)
	if err != nil {
		return nil, classify(err)
	}

	res := SubStatusResult{
		SessionID: sess.ID,
		Active:    sess.Subs.Active(),
		Addresses: make([]SubAddressStatus, 0, len(statuses)),
	}
	for _, st := range statuses {
		res.Addresses = append(res.Addresses, SubAddressStatus{
			Address: st.Address.String(),
			Balance: st.Balance,
			Last:    st.Last,
			Delta:   st.Delta,
			Error:   st.Error,
		})
	}
	return res, nil
}

func (s *Server) handleSubNotifications(req *Request) (interface{}, *Error) {
	var p SubNotificationsParam
	if errp := parseOptionalParams(req, &p); errp != nil {
		return nil, errp
	}

	sess, unlock := s.sessionFor(p.SessionID)
	defer unlock()

	res := SubNotificationsResult{SessionID: sess.ID, Notifications: []NotificationResult{}}
	if sess.Subs == nil {
		return res, nil
	}

	for _, n := range sess.Subs.Drain(p.Max) {
		nr := NotificationResult{
			Kind:      n.Kind.String(),
			Address:   n.Address.String(),
			Amount:    n.Amount,
			Timestamp: n.Timestamp.Unix(),
		}
		if n.TxID != nil {
			nr.TxID = n.TxID.String()
		}
		res.Notifications = append(res.Notifications, nr)
	}
	return res, nil
}

func addressStrings(addrs []types.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
