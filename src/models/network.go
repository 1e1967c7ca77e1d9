package models

import "fmt"

// ConnectionState of a ledger connection or exchange adapter
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets the state appear by name in JSON payloads
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// -----------------------------------------------------------------------------

// NetworkKind classifies an endpoint
type NetworkKind string

const (
	KindMainnet NetworkKind = "mainnet"
	KindTestnet NetworkKind = "testnet"
	KindDevnet  NetworkKind = "devnet"
	KindCustom  NetworkKind = "custom"
)

// -----------------------------------------------------------------------------

// MNetworkEndpoint is an immutable ledger server description.
type MNetworkEndpoint struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	DisplayName string      `json:"display_name" yaml:"display_name" validate:"required"`
	URL         string      `json:"url" yaml:"url" validate:"required,url,startswith=ws"`
	Kind        NetworkKind `json:"kind" yaml:"kind" validate:"required,oneof=mainnet testnet devnet custom"`
}

// DefaultEndpoints is the built-in public server catalogue.
func DefaultEndpoints() []MNetworkEndpoint {
	return []MNetworkEndpoint{
		{ID: "mainnet-xrplcluster", DisplayName: "Mainnet (XRPL Foundation)", URL: "wss://xrplcluster.com", Kind: KindMainnet},
		{ID: "mainnet-ripple-1", DisplayName: "Mainnet (Ripple s1)", URL: "wss://s1.ripple.com", Kind: KindMainnet},
		{ID: "mainnet-ripple-2", DisplayName: "Mainnet (Ripple s2)", URL: "wss://s2.ripple.com", Kind: KindMainnet},
		{ID: "testnet-ripple", DisplayName: "Testnet (Ripple)", URL: "wss://s.altnet.rippletest.net:51233", Kind: KindTestnet},
		{ID: "testnet-xrpl-labs", DisplayName: "Testnet (XRPL Labs)", URL: "wss://testnet.xrpl-labs.com", Kind: KindTestnet},
		{ID: "testnet-ripple-clio", DisplayName: "Testnet Clio (Ripple)", URL: "wss://clio.altnet.rippletest.net:51233", Kind: KindTestnet},
		{ID: "devnet-ripple", DisplayName: "Devnet (Ripple)", URL: "wss://s.devnet.rippletest.net:51233", Kind: KindDevnet},
		{ID: "devnet-ripple-clio", DisplayName: "Devnet Clio (Ripple)", URL: "wss://clio.devnet.rippletest.net:51233", Kind: KindDevnet},
	}
}

// DefaultEndpointID is selected when the config names none
const DefaultEndpointID = "testnet-ripple"

// -----------------------------------------------------------------------------

// SubscriptionKind distinguishes account watches from named streams
type SubscriptionKind string

const (
	SubscribeAccount SubscriptionKind = "accounts"
	SubscribeStream  SubscriptionKind = "streams"
)

// MSubscription is a server side subscription the ledger connection
// re-issues after every reconnect.
type MSubscription struct {
	Kind   SubscriptionKind `json:"kind"`
	Target string           `json:"target"`
	Active bool             `json:"active"`
}

// Key identifies the subscription in the registry
func (s MSubscription) Key() string {
	return string(s.Kind) + ":" + s.Target
}

// Params is the subscribe/unsubscribe request body
func (s MSubscription) Params() map[string]interface{} {
	return map[string]interface{}{string(s.Kind): []string{s.Target}}
}

// AccountSubscription builds a watch on one account
func AccountSubscription(address string) MSubscription {
	return MSubscription{Kind: SubscribeAccount, Target: address}
}

// StreamSubscription builds a watch on a named stream such as "ledger"
func StreamSubscription(name string) MSubscription {
	return MSubscription{Kind: SubscribeStream, Target: name}
}

// -----------------------------------------------------------------------------

// MLedgerStatus is a point-in-time view of the ledger connection
type MLedgerStatus struct {
	State           ConnectionState   `json:"state"`
	Endpoint        *MNetworkEndpoint `json:"endpoint,omitempty"`
	Subscriptions   []MSubscription   `json:"subscriptions"`
	Reconnects      int64             `json:"reconnects"`
	PendingRequests int               `json:"pending_requests"`
	LastLedgerIndex int64             `json:"last_ledger_index,omitempty"`
	ReserveDrops    int64             `json:"reserve_drops,omitempty"`
}
