package hub

// JSON-RPC 2.0 error codes. The -320xx range carries hub-specific
// classifications on top of the standard codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotFound          = -32000
	CodeInsufficientFunds = -32010
	CodeEngineFailure     = -32020
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object. Data carries the engine's
// original diagnostic text when a downstream failure is classified.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SessionParam is embedded by every method that addresses a session.
// An absent or blank session_id selects the default session.
type SessionParam struct {
	SessionID string `json:"session_id,omitempty"`
}

// ConnectParam is used by hub_connect.
type ConnectParam struct {
	SessionParam
	Network  string `json:"network,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ConnectResult reports the established connection.
type ConnectResult struct {
	SessionID string `json:"session_id"`
	Network   string `json:"network"`
	Endpoint  string `json:"endpoint"`
}

// WalletCreateParam is used by wallet_create.
type WalletCreateParam struct {
	SessionParam
	Passphrase string `json:"passphrase,omitempty"`
}

// WalletCreateResult returns the freshly generated mnemonic. It is shown
// exactly once; the hub never stores it in plaintext.
type WalletCreateResult struct {
	SessionID string `json:"session_id"`
	Mnemonic  string `json:"mnemonic"`
	Address   string `json:"address"`
}

// WalletImportParam is used by wallet_import. Exactly one of Mnemonic or
// PrivateKey must be set.
type WalletImportParam struct {
	SessionParam
	Mnemonic   string `json:"mnemonic,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// WalletImportResult reports the imported wallet's first address.
type WalletImportResult struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
}

// WalletAddressParam is used by wallet_address.
type WalletAddressParam struct {
	SessionParam
	Index  uint32 `json:"index"`
	Change bool   `json:"change,omitempty"`
}

// WalletAddressResult returns one derived address.
type WalletAddressResult struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
	Change  bool   `json:"change"`
}

// WalletBalanceParam is used by wallet_balance.
type WalletBalanceParam struct {
	SessionParam
	Address string `json:"address,omitempty"`
}

// WalletBalanceResult returns one address balance.
type WalletBalanceResult struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// WalletUTXOsParam is used by wallet_utxos.
type WalletUTXOsParam struct {
	SessionParam
	Address string `json:"address,omitempty"`
}

// UTXOResult is one unspent output.
type UTXOResult struct {
	TxID       string `json:"txid"`
	Index      uint32 `json:"index"`
	Address    string `json:"address"`
	Amount     uint64 `json:"amount"`
	BlockScore uint64 `json:"block_score"`
	IsCoinbase bool   `json:"is_coinbase"`
}

// WalletUTXOsResult lists the spendable outputs of one address.
type WalletUTXOsResult struct {
	Address string       `json:"address"`
	UTXOs   []UTXOResult `json:"utxos"`
	Total   uint64       `json:"total"`
}

// TxSendParam is used by tx_send. At most one of FeeTier, CustomFee, or
// PriorityFee may be set.
type TxSendParam struct {
	SessionParam
	From        string  `json:"from,omitempty"`
	To          string  `json:"to"`
	Amount      int64   `json:"amount"`
	FeeTier     string  `json:"fee_tier,omitempty"`
	CustomFee   *uint64 `json:"custom_fee,omitempty"`
	PriorityFee *uint64 `json:"priority_fee,omitempty"`
	Payload     string  `json:"payload,omitempty"` // hex
}

// TxSendResult reports the submitted transaction.
type TxSendResult struct {
	TxID      string `json:"txid"`
	FeePaid   uint64 `json:"fee_paid"`
	TargetFee uint64 `json:"target_fee"`
	Mass      uint64 `json:"mass"`
	Change    uint64 `json:"change,omitempty"`
	TxCount   int    `json:"tx_count"`
}

// FeeEstimateParam is used by fee_estimate.
type FeeEstimateParam struct {
	SessionParam
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// FeeEstimateResult reports the provisional fee computation.
type FeeEstimateResult struct {
	BaseFee       uint64 `json:"base_fee"`
	EstimatedMass uint64 `json:"estimated_mass"`
	MassLimit     uint64 `json:"mass_limit"`
	LowFee        uint64 `json:"low_fee"`
	NormalFee     uint64 `json:"normal_fee"`
	HighFee       uint64 `json:"high_fee"`
}

// SubSubscribeParam is used by sub_subscribe.
type SubSubscribeParam struct {
	SessionParam
	Addresses           []string `json:"addresses,omitempty"`
	IncludeTransactions bool     `json:"include_transactions,omitempty"`
}

// SubSubscribeResult reports the monitored set after subscribing.
type SubSubscribeResult struct {
	SessionID string   `json:"session_id"`
	Addresses []string `json:"addresses"`
}

// SubUnsubscribeParam is used by sub_unsubscribe. An empty address list
// drops the whole subscription.
type SubUnsubscribeParam struct {
	SessionParam
	Addresses []string `json:"addresses,omitempty"`
}

// SubUnsubscribeResult reports the monitored set after unsubscribing.
type SubUnsubscribeResult struct {
	SessionID string   `json:"session_id"`
	Addresses []string `json:"addresses"`
	Active    bool     `json:"active"`
}

// SubStatusResult reports per-address balances for the monitored set.
type SubStatusResult struct {
	SessionID string             `json:"session_id"`
	Active    bool               `json:"active"`
	Addresses []SubAddressStatus `json:"addresses"`
}

// SubAddressStatus is one monitored address in a status report.
type SubAddressStatus struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Last    uint64 `json:"last_balance"`
	Delta   int64  `json:"delta"`
	Error   string `json:"error,omitempty"`
}

// SubNotificationsParam is used by sub_notifications.
type SubNotificationsParam struct {
	SessionParam
	Max int `json:"max,omitempty"`
}

// NotificationResult is one drained balance-change notification.
type NotificationResult struct {
	Kind      string `json:"kind"`
	Address   string `json:"address"`
	TxID      string `json:"txid,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SubNotificationsResult lists drained notifications.
type SubNotificationsResult struct {
	SessionID     string               `json:"session_id"`
	Notifications []NotificationResult `json:"notifications"`
}

// SessionsResult lists live sessions.
type SessionsResult struct {
	Sessions []string `json:"sessions"`
}

// DisconnectResult reports a session teardown.
type DisconnectResult struct {
	SessionID string `json:"session_id"`
	Removed   bool   `json:"removed"`
}
