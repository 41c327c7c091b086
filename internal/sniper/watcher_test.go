package sniper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// vaultNode fakes the node side of an accountSubscribe session: it confirms
// the subscription and then pushes the given lamport values.
func vaultNode(t *testing.T, lamports []uint64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req accountSubRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "accountSubscribe" {
			t.Errorf("expected accountSubscribe, got %s", req.Method)
			return
		}

		if err := conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  777,
		}); err != nil {
			return
		}

		for _, value := range lamports {
			notif := map[string]any{
				"jsonrpc": "2.0",
				"method":  "accountNotification",
				"params": map[string]any{
					"subscription": 777,
					"result": map[string]any{
						"context": map[string]any{"slot": 1},
						"value":   map[string]any{"lamports": value},
					},
				},
			}
			if err := conn.WriteJSON(notif); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSVaultWatcher_DeliversLamports(t *testing.T) {
	server := vaultNode(t, []uint64{100, 250, 999})
	defer server.Close()

	watcher := NewWSVaultWatcher(wsURL(server), rpc.CommitmentConfirmed, testLogger())

	received := make(chan uint64, 8)
	cancel, err := watcher.WatchAccount(context.Background(), solana.NewWallet().PublicKey(), func(lamports uint64) {
		received <- lamports
	})
	require.NoError(t, err)
	defer cancel()

	for _, want := range []uint64{100, 250, 999} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for lamport update")
		}
	}
}

func TestWSVaultWatcher_CancelIdempotent(t *testing.T) {
	server := vaultNode(t, nil)
	defer server.Close()

	watcher := NewWSVaultWatcher(wsURL(server), rpc.CommitmentConfirmed, testLogger())

	cancel, err := watcher.WatchAccount(context.Background(), solana.NewWallet().PublicKey(), func(uint64) {})
	require.NoError(t, err)

	cancel()
	cancel()
	cancel()
}

func TestWSVaultWatcher_SubscriptionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32602, "message": "invalid pubkey"},
		})
	}))
	defer server.Close()

	watcher := NewWSVaultWatcher(wsURL(server), rpc.CommitmentConfirmed, testLogger())

	_, err := watcher.WatchAccount(context.Background(), solana.NewWallet().PublicKey(), func(uint64) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestWSVaultWatcher_DialFailure(t *testing.T) {
	watcher := NewWSVaultWatcher("ws://127.0.0.1:1", rpc.CommitmentConfirmed, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := watcher.WatchAccount(ctx, solana.NewWallet().PublicKey(), func(uint64) {})
	require.Error(t, err)
}
