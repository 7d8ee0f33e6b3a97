package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
	"github.com/uhyunpark/tokendex/pkg/util"
)

const (
	defaultDepth      = 20
	defaultTradeLimit = 50
	maxTradeLimit     = 500
	shutdownTimeout   = 5 * time.Second
)

// TradeHistory serves recent trades; the pebble store implements it
type TradeHistory interface {
	RecentTrades(ticker token.Ticker, limit int) ([]exchange.Trade, error)
}

type Options struct {
	Trades      TradeHistory // nil: /trades answers 404
	CORSOrigins []string     // empty: allow any origin
	Clock       util.Clock
	Logger      *zap.Logger
}

// Server is the HTTP and websocket front of an exchange
type Server struct {
	ex      *exchange.Exchange
	trades  TradeHistory
	router  *mux.Router
	hub     *Hub
	origins []string
	clock   util.Clock
	log     *zap.SugaredLogger
}

func NewServer(ex *exchange.Exchange, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	s := &Server{
		ex:      ex,
		trades:  opts.Trades,
		router:  mux.NewRouter(),
		hub:     NewHub(opts.Logger.Named("ws")),
		origins: opts.CORSOrigins,
		clock:   opts.Clock,
		log:     opts.Logger.Sugar(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/tokens", s.handleListTokens).Methods("GET")
	api.HandleFunc("/tokens", s.handleRegisterToken).Methods("POST")

	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/accounts/{address}/balances/{ticker}", s.handleGetBalance).Methods("GET")

	api.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// depth before {side} so it is not parsed as a side
	api.HandleFunc("/books/{ticker}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/books/{ticker}/{side}", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/trades/{ticker}", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// OnTrade forwards a trade to websocket subscribers
// It runs under the exchange lock, so it must not query the exchange
func (s *Server) OnTrade(t exchange.Trade) {
	s.hub.Broadcast(tradesChannel(t.Ticker.String()), "trade", tradeInfo(t))
}

// Start serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "api server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api shutdown")
	}
	s.log.Infow("api_stopped")
	return nil
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Tokens: len(s.ex.Tokens())})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	settlement := s.ex.Settlement()
	tokens := s.ex.Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = tokenInfo(t, settlement)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	ticker, err := token.NewTicker(req.Ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ex.RegisterToken(ticker, asset); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tokenInfo(token.Token{Ticker: ticker, Asset: asset}, s.ex.Settlement()))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ex.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ex.Withdraw)
}

type transferFunc func(ctx context.Context, trader common.Address, ticker token.Ticker, amount int64) error

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, move transferFunc) {
	var req TransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, err := parseAddress(req.Trader)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ticker, err := token.NewTicker(req.Ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := move(r.Context(), trader, ticker, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.balance(trader, ticker))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trader, err := parseAddress(vars["address"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ticker, err := token.NewTicker(vars["ticker"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.balance(trader, ticker))
}

func (s *Server) balance(trader common.Address, ticker token.Ticker) BalanceInfo {
	return BalanceInfo{
		Trader:    trader.Hex(),
		Ticker:    ticker.String(),
		Balance:   s.ex.BalanceOf(trader, ticker),
		Available: s.ex.Available(trader, ticker),
		Reserved:  s.ex.Reserved(trader, ticker),
	}
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, ticker, side, err := parseOrder(req.Trader, req.Ticker, req.Side)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exec, err := s.ex.SubmitLimit(ticker, req.Amount, req.Price, side, trader)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.broadcastDepth(ticker)
	respondJSON(w, http.StatusOK, executionResponse(exec))
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, ticker, side, err := parseOrder(req.Trader, req.Ticker, req.Side)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exec, err := s.ex.SubmitMarket(ticker, req.Amount, side, trader)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if exec.Filled > 0 {
		s.broadcastDepth(ticker)
	}
	respondJSON(w, http.StatusOK, executionResponse(exec))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, ticker, side, err := parseOrder(req.Trader, req.Ticker, req.Side)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ex.CancelOrder(ticker, side, req.OrderID, trader); err != nil {
		s.fail(w, r, err)
		return
	}
	s.broadcastDepth(ticker)
	respondJSON(w, http.StatusOK, map[string]any{"orderId": req.OrderID, "status": "canceled"})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ticker, err := token.NewTicker(vars["ticker"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	side, err := orderbook.ParseSide(vars["side"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	orders, err := s.ex.Orders(ticker, side)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	ticker, err := token.NewTicker(mux.Vars(r)["ticker"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	depth, err := queryInt(r, "depth", defaultDepth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.ex.Depth(ticker, depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, depthSnapshot(d, s.clock.Now()))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, r, http.StatusNotFound, "trade history disabled", "persistence is off")
		return
	}
	ticker, err := token.NewTicker(mux.Vars(r)["ticker"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultTradeLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit = min(limit, maxTradeLimit)
	trades, err := s.trades.RecentTrades(ticker, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tradeInfos(trades))
}

// broadcastDepth pushes the current book to orderbook subscribers
// Called after the exchange lock is released
func (s *Server) broadcastDepth(ticker token.Ticker) {
	d, err := s.ex.Depth(ticker, defaultDepth)
	if err != nil {
		return
	}
	s.hub.Broadcast(orderbookChannel(ticker.String()), "orderbook", depthSnapshot(d, s.clock.Now()))
}

// Helpers

var errBadRequest = errors.New("bad request")

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Wrapf(errBadRequest, "invalid address %q", v)
	}
	return common.HexToAddress(v), nil
}

func parseOrder(trader, ticker, side string) (common.Address, token.Ticker, orderbook.Side, error) {
	addr, err := parseAddress(trader)
	if err != nil {
		return common.Address{}, token.Ticker{}, 0, err
	}
	t, err := token.NewTicker(ticker)
	if err != nil {
		return common.Address{}, token.Ticker{}, 0, err
	}
	sd, err := orderbook.ParseSide(side)
	if err != nil {
		return common.Address{}, token.Ticker{}, 0, err
	}
	return addr, t, sd, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(errBadRequest, "invalid %s %q", name, v)
	}
	return n, nil
}

// statusOf maps exchange errors onto HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.IsAny(err, exchange.ErrUnknownToken, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrDuplicateToken):
		return http.StatusConflict
	case errors.IsAny(err, exchange.ErrInsufficientBalance, exchange.ErrInsufficientAssetBalance,
		exchange.ErrInsufficientSettlementBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrCustody):
		return http.StatusBadGateway
	case errors.IsAny(err, exchange.ErrInvalidAmount, exchange.ErrInvalidPrice, exchange.ErrInvalidSide,
		exchange.ErrInvalidTicker, exchange.ErrCannotTradeSettlementToken, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request_failed", "path", r.URL.Path, "request_id", requestID(r), "err", err)
		respondError(w, r, status, "internal error", "")
		return
	}
	respondError(w, r, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: requestID(r),
	})
}
