package mev

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/kitefin/arbot/internal/domain"
)

// Observer subscribes to newPendingTransactions on a single dedicated
// WebSocket endpoint and feeds classified observations to the guard over a
// bounded channel. On overflow, transactions are dropped rather than
// back-pressuring the socket.
type Observer struct {
	wsURL      string
	classifier *Classifier
	out        chan *domain.PendingObservation
	dropped    atomic.Uint64
	logger     *slog.Logger
}

// wsRequest is a raw JSON-RPC frame.
type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// wsNotification is an eth_subscription push with a full tx object.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// rawPendingTx is the tx object shape delivered by the subscription.
type rawPendingTx struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Input                hexutil.Bytes   `json:"input"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	Value                *hexutil.Big    `json:"value"`
}

// NewObserver creates an Observer on the given WebSocket endpoint.
func NewObserver(wsURL string, classifier *Classifier, bufferLen int, logger *slog.Logger) *Observer {
	if bufferLen <= 0 {
		bufferLen = 1024
	}
	return &Observer{
		wsURL:      wsURL,
		classifier: classifier,
		out:        make(chan *domain.PendingObservation, bufferLen),
		logger:     logger.With(slog.String("component", "mempool_observer")),
	}
}

// Observations is the bounded stream of classified pending transactions.
func (o *Observer) Observations() <-chan *domain.PendingObservation {
	return o.out
}

// Dropped returns how many observations were discarded on overflow.
func (o *Observer) Dropped() uint64 {
	return o.dropped.Load()
}

// Run maintains the subscription until ctx is done, reconnecting with
// backoff on socket failure.
func (o *Observer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := o.subscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("mempool subscription lost",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (o *Observer) subscribe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, o.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("mev: dial %s: %w", o.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sub := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newPendingTransactions", true},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("mev: subscribe: %w", err)
	}

	o.logger.Info("mempool subscription active", slog.String("endpoint", o.wsURL))

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mev: read: %w", err)
		}
		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil || note.Method != "eth_subscription" {
			continue
		}
		var tx rawPendingTx
		if err := json.Unmarshal(note.Params.Result, &tx); err != nil {
			continue
		}
		o.handle(&tx)
	}
}

func (o *Observer) handle(tx *rawPendingTx) {
	if tx.To == nil {
		return // contract creation is never swap traffic
	}
	feeCap := bigOrNil(tx.MaxFeePerGas)
	if feeCap == nil {
		feeCap = bigOrNil(tx.GasPrice)
	}
	obs := observationFromRaw(tx.Hash, tx.From, *tx.To, tx.Input,
		feeCap, bigOrNil(tx.MaxPriorityFeePerGas), bigOrNil(tx.Value))
	o.classifier.Classify(obs)

	select {
	case o.out <- obs:
	default:
		o.dropped.Add(1)
	}
}

func bigOrNil(h *hexutil.Big) *big.Int {
	if h == nil {
		return nil
	}
	return (*big.Int)(h)
}
