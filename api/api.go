// Package api exposes the access ledger over HTTP.
//
// Amounts travel as decimal strings and addresses as 0x-prefixed hex. Reads
// are anonymous; every write requires an HS256 bearer token whose subject is
// the calling address.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/types"
)

// Server serves the HTTP API for one AccessLedger.
type Server struct {
	ledger   *agentchat.AccessLedger
	auth     *Authenticator
	logger   *slog.Logger
	balances BalanceReader
}

// BalanceReader reports what an address can spend on the payment backend.
type BalanceReader interface {
	Balance(addr account.Address) types.Amount
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBalances mounts GET /balances/{address} backed by b.
func WithBalances(b BalanceReader) Option {
	return func(s *Server) { s.balances = b }
}

// New returns a Server backed by l. Writes are authenticated with auth.
func New(l *agentchat.AccessLedger, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		ledger: l,
		auth:   auth,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns a standalone router with recovery and request IDs.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/contracts", s.listContracts)
		r.Get("/purchases/{purchaseID}", s.getPurchase)
		r.Get("/transfers/{transferID}", s.getTransfer)
		if s.balances != nil {
			r.Get("/balances/{address}", s.getBalance)
		}

		r.Route("/contracts/{contractID}", func(r chi.Router) {
			r.Get("/", s.getContract)
			r.Get("/owner", s.getOwner)
			r.Get("/agent", s.getAgent)
			r.Get("/pending-owner", s.getPendingOwner)
			r.Get("/buy-limit", s.getBuyLimit)
			r.Get("/buy-limit-price", s.getBuyLimitPrice)
			r.Get("/users/{address}/chat-limit", s.getUserChatLimit)
			r.Get("/users/{address}/allowance", s.checkAllowance)
			r.Get("/chat-limits", s.listChatLimits)
			r.Get("/purchases", s.listPurchases)
			r.Get("/transfers", s.listTransfers)

			r.Group(func(r chi.Router) {
				r.Use(RequireCaller)

				r.Post("/ownership/transfer", s.initiateTransfer)
				r.Post("/ownership/accept", s.acceptTransfer)
				r.Post("/ownership/cancel", s.cancelTransfer)
				r.Post("/purchases", s.buyChatLimit)
				r.Put("/buy-limit-price", s.setBuyLimitPrice)
				r.Put("/buy-limit", s.setBuyLimit)
				r.Put("/users/{address}/chat-limit", s.setUserLimit)
				r.Post("/chat-limits", s.batchSetUserLimit)
			})
		})

		r.With(RequireCaller).Post("/contracts", s.deploy)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if StatusOf(err) >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, err)
}
