// Package gateway exposes the exchange over HTTP: read-only views of the
// contract plus operation submission routed through the deterministic host
// sandbox. The gateway holds no business logic of its own.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usnd/contract"
	"usnd/exchange"
	"usnd/host"
	"usnd/oracle"
)

// Config wires the gateway dependencies. PriceFeed is optional: when set,
// the gateway exposes endpoints to push quotes into the manual source,
// either unsigned (operator override) or as feeder-signed reports checked
// against Verifier.
type Config struct {
	Contract    *contract.Contract
	Sandbox     *host.Sandbox
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	PriceFeed   *oracle.ManualSource
	Verifier    *oracle.Verifier
}

// Server serves the HTTP surface. Operations are serialised: the sandbox is
// a single deterministic execution lane.
type Server struct {
	contract *contract.Contract
	sandbox  *host.Sandbox
	limiter  *RateLimiter
	logger   *slog.Logger
	feed     *oracle.ManualSource
	verifier *oracle.Verifier

	mu sync.Mutex
}

// New constructs the server.
func New(cfg Config) (*Server, error) {
	if cfg.Contract == nil {
		return nil, fmt.Errorf("gateway: contract required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("gateway: sandbox required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		contract: cfg.Contract,
		sandbox:  cfg.Sandbox,
		limiter:  cfg.RateLimiter,
		logger:   logger,
		feed:     cfg.PriceFeed,
		verifier: cfg.Verifier,
	}, nil
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/status", s.handleStatus)
		v1.Get("/token", s.handleToken)
		v1.Get("/spread", s.handleSpread)
		v1.Get("/checksum", s.handleChecksum)
		v1.Get("/accounts/{id}", s.handleAccount)
		v1.Post("/exchange/buy", s.handleBuy)
		v1.Post("/exchange/sell", s.handleSell)
		if s.feed != nil {
			v1.Post("/oracle/price", s.handlePrice)
			if s.verifier != nil {
				v1.Post("/oracle/report", s.handleReport)
			}
		}
	})
	return r
}

type statusResponse struct {
	Status  string `json:"status"`
	Owner   string `json:"owner"`
	Version string `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.contract.ContractStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	owner, err := s.contract.Owner()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  string(status),
		Owner:   owner,
		Version: contract.Version,
	})
}

type tokenResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Icon        string `json:"icon,omitempty"`
	TotalSupply string `json:"total_supply"`
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request) {
	name, err := s.contract.Name()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	symbol, _ := s.contract.Symbol()
	decimals, _ := s.contract.Decimals()
	icon, _ := s.contract.Icon()
	supply, err := s.contract.FtTotalSupply()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		Icon:        icon,
		TotalSupply: supply.String(),
	})
}

func (s *Server) handleSpread(w http.ResponseWriter, req *http.Request) {
	amount := big.NewInt(0)
	if raw := strings.TrimSpace(req.URL.Query().Get("amount")); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok || parsed.Sign() < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: invalid amount %q", raw))
			return
		}
		amount = parsed
	}
	ppm, err := s.contract.SpreadPpm(amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"spread_ppm": ppm})
}

func (s *Server) handleChecksum(w http.ResponseWriter, _ *http.Request) {
	sum, err := s.contract.StateChecksum()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checksum": hex.EncodeToString(sum[:])})
}

type accountResponse struct {
	Account         string `json:"account"`
	Registered      bool   `json:"registered"`
	Balance         string `json:"balance"`
	StorageDeposit  string `json:"storage_deposit,omitempty"`
	BlacklistStatus string `json:"blacklist_status"`
}

func (s *Server) handleAccount(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	balance, err := s.contract.FtBalanceOf(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	storageBalance, registered, err := s.contract.StorageBalanceOf(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	blacklist, err := s.contract.BlacklistStatus(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := accountResponse{
		Account:         id,
		Registered:      registered,
		Balance:         balance.String(),
		BlacklistStatus: blacklist,
	}
	if registered {
		resp.StorageDeposit = storageBalance.Total.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type exchangeRequest struct {
	Account  string                 `json:"account"`
	To       string                 `json:"to,omitempty"`
	Deposit  string                 `json:"deposit,omitempty"`
	Amount   string                 `json:"amount,omitempty"`
	Expected *exchange.ExpectedRate `json:"expected,omitempty"`
}

type exchangeResponse struct {
	OK     bool   `json:"ok"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleBuy(w http.ResponseWriter, req *http.Request) {
	var body exchangeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	attached, err := parseAmount(body.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, body.Account, attached, func(env *host.Env) (host.PromiseID, error) {
		return s.contract.Buy(env, body.To, body.Expected)
	})
}

func (s *Server) handleSell(w http.ResponseWriter, req *http.Request) {
	var body exchangeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, body.Account, big.NewInt(1), func(env *host.Env) (host.PromiseID, error) {
		return s.contract.Sell(env, amount, body.Expected)
	})
}

type priceRequest struct {
	AssetID    string `json:"asset_id"`
	Multiplier string `json:"multiplier"`
	Decimals   uint8  `json:"decimals"`
}

func (s *Server) handlePrice(w http.ResponseWriter, req *http.Request) {
	var body priceRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(body.AssetID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: asset_id required"))
		return
	}
	multiplier, err := parseAmount(body.Multiplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.feed.Set(body.AssetID, oracle.Price{Multiplier: multiplier, Decimals: body.Decimals}, s.sandbox.Now())
	s.logger.Info("manual price published", "asset", body.AssetID, "multiplier", multiplier.String(), "decimals", body.Decimals)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request) {
	var report oracle.SignedReport
	if err := json.NewDecoder(req.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.verifier.Verify(&report); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	s.feed.Publish(report.Data)
	s.logger.Info("signed price report accepted",
		"provider", report.Provider,
		"timestamp", report.Data.Timestamp,
		"assets", len(report.Data.Prices))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// submit runs one operation through the sandbox. The caller's simulated
// reserve balance is credited with the attachment first; the sandbox is the
// system of record for native funds, not a chain.
func (s *Server) submit(w http.ResponseWriter, account string, attached *big.Int, op func(*host.Env) (host.PromiseID, error)) {
	account = strings.TrimSpace(account)
	if account == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: account required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.sandbox.Balance(account)
	s.sandbox.SetBalance(account, balance.Add(balance, attached))
	env, err := s.sandbox.NewEnv(account, s.contract.Account(), attached)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := op(env)
	runErr := s.sandbox.Run()
	if runErr != nil {
		writeError(w, http.StatusInternalServerError, runErr)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, exchangeResponse{Error: err.Error()})
		return
	}
	result, ok := s.sandbox.Result(id)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("gateway: operation never settled"))
		return
	}
	if !result.OK {
		writeJSON(w, http.StatusUnprocessableEntity, exchangeResponse{Error: string(result.Value)})
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse{OK: true, Result: string(result.Value)})
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("gateway: amount required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("gateway: invalid amount %q", raw)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
