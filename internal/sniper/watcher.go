package sniper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

// WSVaultWatcher streams lamport balances of watched accounts over the RPC
// node's websocket endpoint. Each watched account gets its own connection so
// one slow subscription cannot stall another position.
type WSVaultWatcher struct {
	endpoint   string
	commitment rpc.CommitmentType
	logger     *slog.Logger

	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	confirmTimeout   time.Duration
}

func NewWSVaultWatcher(endpoint string, commitment rpc.CommitmentType, logger *slog.Logger) *WSVaultWatcher {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &WSVaultWatcher{
		endpoint:         endpoint,
		commitment:       commitment,
		logger:           logger,
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		confirmTimeout:   30 * time.Second,
	}
}

type accountSubRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type accountSubResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type accountNotification struct {
	Method string `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Lamports uint64 `json:"lamports"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// WatchAccount subscribes to the account and invokes onLamports for every
// state change the node pushes. The returned cancel unsubscribes and closes
// the connection; it is safe to call repeatedly.
func (w *WSVaultWatcher) WatchAccount(ctx context.Context, account solana.PublicKey, onLamports func(uint64)) (func(), error) {
	dialer := websocket.Dialer{HandshakeTimeout: w.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", w.endpoint, err)
	}

	req := accountSubRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "accountSubscribe",
		Params: []any{
			account.String(),
			map[string]string{
				"encoding":   "base64",
				"commitment": string(w.commitment),
			},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write accountSubscribe: %w", err)
	}

	subID, err := w.awaitConfirmation(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger := w.logger.With("account", account.String(), "subscription", subID)
	logger.Debug("account subscription established")

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			_ = conn.WriteJSON(accountSubRequest{
				JSONRPC: "2.0",
				ID:      2,
				Method:  "accountUnsubscribe",
				Params:  []any{subID},
			})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		})
	}

	go w.readLoop(conn, done, subID, onLamports, logger)
	return cancel, nil
}

// awaitConfirmation blocks until the node acknowledges the subscription with
// its id.
func (w *WSVaultWatcher) awaitConfirmation(ctx context.Context, conn *websocket.Conn) (int64, error) {
	deadline := time.Now().Add(w.confirmTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("await subscription confirmation: %w", err)
		}

		var resp accountSubResponse
		if err := json.Unmarshal(message, &resp); err != nil || resp.ID != 1 {
			continue
		}
		if resp.Error != nil {
			return 0, fmt.Errorf("accountSubscribe rejected: code=%d %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (w *WSVaultWatcher) readLoop(conn *websocket.Conn, done <-chan struct{}, subID int64, onLamports func(uint64), logger *slog.Logger) {
	conn.SetReadDeadline(time.Time{})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				logger.Warn("account subscription closed", "error", err)
			}
			return
		}

		var notif accountNotification
		if err := json.Unmarshal(message, &notif); err != nil {
			continue
		}
		if notif.Method != "accountNotification" || notif.Params == nil {
			continue
		}
		if notif.Params.Subscription != subID {
			continue
		}
		onLamports(notif.Params.Result.Value.Lamports)
	}
}
