package testutil

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/predict-session/pkg/types"
)

type relayEnvelope struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Proposal   *types.Proposal   `json:"proposal,omitempty"`
	Signatures []types.Signature `json:"signatures,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// MockRelay is a websocket counter-signature relay that signs every
// sign_request with the keys it holds.
type MockRelay struct {
	*httptest.Server
	keys     map[common.Address]*ecdsa.PrivateKey
	reject   string
	silent   bool
	requests int
	accepted int
	conns    []*websocket.Conn
	mu       sync.Mutex
}

// NewMockRelay starts a relay holding keys.
func NewMockRelay(keys ...*ecdsa.PrivateKey) *MockRelay {
	mock := &MockRelay{keys: make(map[common.Address]*ecdsa.PrivateKey, len(keys))}
	for _, k := range keys {
		mock.keys[crypto.PubkeyToAddress(k.PublicKey)] = k
	}

	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.mu.Lock()
		mock.conns = append(mock.conns, conn)
		mock.accepted++
		mock.mu.Unlock()
		mock.serve(conn)
	})

	mock.Server = httptest.NewServer(handler)
	return mock
}

func (m *MockRelay) serve(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req relayEnvelope
		if json.Unmarshal(data, &req) != nil || req.Type != "sign_request" || req.Proposal == nil {
			continue
		}

		m.mu.Lock()
		m.requests++
		silent, reject := m.silent, m.reject
		m.mu.Unlock()

		if silent {
			continue
		}

		resp := relayEnvelope{Type: "sign_response", ID: req.ID}
		if reject != "" {
			resp.Error = reject
		} else {
			resp.Signatures = m.sign(req.Proposal)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

func (m *MockRelay) sign(p *types.Proposal) []types.Signature {
	var sigs []types.Signature
	for _, participant := range p.Participants {
		key, ok := m.keys[participant]
		if !ok {
			continue
		}
		sig, err := crypto.Sign(p.Digest.Bytes(), key)
		if err != nil {
			continue
		}
		sigs = append(sigs, types.Signature{Signer: participant, Signature: sig})
	}
	return sigs
}

// WSURL returns the ws:// address of the relay.
func (m *MockRelay) WSURL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http")
}

// SetReject makes the relay answer every request with reason.
func (m *MockRelay) SetReject(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = reason
}

// SetSilent makes the relay swallow requests without answering.
func (m *MockRelay) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// Requests returns the number of sign requests received.
func (m *MockRelay) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Accepted returns the number of connections the relay has accepted.
func (m *MockRelay) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// DropConnections closes every open client connection.
func (m *MockRelay) DropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		_ = c.Close()
	}
	m.conns = nil
}

// Close drops client connections and shuts the server down.
func (m *MockRelay) Close() {
	m.DropConnections()
	m.Server.Close()
}

// MockSigner counter-signs in-process. The first Failures calls return Err,
// and Withhold lists participants that never sign.
type MockSigner struct {
	Keys     []*ecdsa.PrivateKey
	Failures int
	Err      error
	Withhold []common.Address
	Forge    bool
	calls    int
	mu       sync.Mutex
}

// NewMockSigner creates a signer holding keys.
func NewMockSigner(keys ...*ecdsa.PrivateKey) *MockSigner {
	return &MockSigner{Keys: keys, Err: errors.New("signer unavailable")}
}

// RequestCounterSignatures signs p.Digest with every held participant key.
// With Forge set it signs a different digest instead.
func (m *MockSigner) RequestCounterSignatures(ctx context.Context, p *types.Proposal) ([]types.Signature, error) {
	m.mu.Lock()
	m.calls++
	fail := m.calls <= m.Failures
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, m.Err
	}

	digest := p.Digest
	if m.Forge {
		digest = crypto.Keccak256Hash(digest.Bytes())
	}

	var sigs []types.Signature
	for _, key := range m.Keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if !contains(p.Participants, addr) || contains(m.Withhold, addr) {
			continue
		}
		sig, err := crypto.Sign(digest.Bytes(), key)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, types.Signature{Signer: addr, Signature: sig})
	}
	return sigs, nil
}

// Calls returns how many requests were made.
func (m *MockSigner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockConfirmer records confirmation requests and answers with Err.
type MockConfirmer struct {
	Err  error
	refs []common.Hash
	mu   sync.Mutex
}

// WaitForConfirmation records ref and returns Err.
func (m *MockConfirmer) WaitForConfirmation(ctx context.Context, ref common.Hash) error {
	m.mu.Lock()
	m.refs = append(m.refs, ref)
	m.mu.Unlock()
	return m.Err
}

// Refs returns the references seen so far.
func (m *MockConfirmer) Refs() []common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Hash, len(m.refs))
	copy(out, m.refs)
	return out
}

func contains(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}
