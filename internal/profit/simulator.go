package profit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// SimulationResult is the outcome of a pre-broadcast dry run.
type SimulationResult struct {
	Success      bool
	GasUsed      uint64
	NetProfitUSD float64
	Reason       string
}

// Simulator validates candidates before execution. When remote simulator
// credentials are configured it submits the built call to the symbolic
// simulator; otherwise it falls back to a local projection that reuses the
// accountant's gas and profit model. A simulation succeeds iff the
// projected net profit is strictly positive.
type Simulator struct {
	accountant *Accountant
	account    string
	accessKey  string
	client     *http.Client
	logger     *slog.Logger
}

// NewSimulator creates a Simulator. Empty credentials select local
// simulation.
func NewSimulator(accountant *Accountant, account, accessKey string, logger *slog.Logger) *Simulator {
	return &Simulator{
		accountant: accountant,
		account:    account,
		accessKey:  accessKey,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "simulator")),
	}
}

// remote reports whether remote simulation is available.
func (s *Simulator) remote() bool {
	return s.account != "" && s.accessKey != ""
}

// Simulate dry-runs the opportunity at the given gas price. calldata and
// contract are only used by the remote path; local simulation works from
// the breakdown alone.
func (s *Simulator) Simulate(ctx context.Context, o *domain.Opportunity, gasPriceWei *big.Int, contract string, calldata []byte) (*SimulationResult, error) {
	if s.remote() && len(calldata) > 0 {
		res, err := s.simulateRemote(ctx, gasPriceWei, contract, calldata)
		if err == nil {
			return s.finish(ctx, o, gasPriceWei, res.GasUsed, res)
		}
		s.logger.Warn("remote simulation failed, falling back to local",
			slog.String("error", err.Error()),
		)
	}
	return s.finish(ctx, o, gasPriceWei, 0, &SimulationResult{Success: true})
}

// finish reprices the opportunity with the (possibly simulated) gas value
// and applies the strict-positive profit rule.
func (s *Simulator) finish(ctx context.Context, o *domain.Opportunity, gasPriceWei *big.Int, gasUsed uint64, res *SimulationResult) (*SimulationResult, error) {
	if !res.Success {
		res.NetProfitUSD = 0
		return res, nil
	}
	b, err := s.accountant.Evaluate(ctx, o, gasPriceWei, gasUsed)
	if err != nil {
		return nil, err
	}
	res.NetProfitUSD = b.NetProfitUSD
	if b.NetProfitUSD <= 0 {
		res.Success = false
		res.Reason = "projected net profit not positive"
	}
	return res, nil
}

type remoteSimRequest struct {
	NetworkID string `json:"network_id"`
	To        string `json:"to"`
	Input     string `json:"input"`
	GasPrice  string `json:"gas_price"`
	Save      bool   `json:"save"`
}

type remoteSimResponse struct {
	Transaction struct {
		Status  bool   `json:"status"`
		GasUsed uint64 `json:"gas_used"`
		ErrorMessage string `json:"error_message"`
	} `json:"transaction"`
}

// simulateRemote posts the call to the simulator API.
func (s *Simulator) simulateRemote(ctx context.Context, gasPriceWei *big.Int, contract string, calldata []byte) (*SimulationResult, error) {
	payload := remoteSimRequest{
		NetworkID: "8453",
		To:        contract,
		Input:     "0x" + fmt.Sprintf("%x", calldata),
		GasPrice:  gasPriceWei.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("simulator: marshal: %w", err)
	}

	url := fmt.Sprintf("https://api.tenderly.co/api/v1/account/%s/project/arbot/simulate", s.account)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("simulator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", s.accessKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simulator: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("simulator: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var out remoteSimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("simulator: decode: %w", err)
	}

	res := &SimulationResult{
		Success: out.Transaction.Status,
		GasUsed: out.Transaction.GasUsed,
	}
	if !res.Success {
		res.Reason = out.Transaction.ErrorMessage
	}
	return res, nil
}
