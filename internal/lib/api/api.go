// Package api serves snapshots, teams and claim history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/dashboard"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

var tracer = otel.Tracer("github.com/byta-labs/stakedash/internal/lib/api")

type Projector interface {
	Project(ctx context.Context, addr common.Address, now int64) (*dashboard.Snapshot, error)
}

type TeamReader interface {
	TeamOf(ctx context.Context, root common.Address) (*referral.Team, error)
}

// ClaimReader is satisfied by *byta.Client.
type ClaimReader interface {
	ClaimHistory(ctx context.Context, scanner byta.LogScanner, user common.Address, lookback uint64, limit int) (*byta.ClaimHistory, error)
}

type Config struct {
	Logger    *slog.Logger
	Projector Projector
	Teams     TeamReader
	Claims    ClaimReader
	Scanner   byta.LogScanner
	// Lookback is the block window searched for claims.
	Lookback   uint64
	ClaimLimit int
	// RequestTimeout bounds each request's context. Zero means 60 seconds.
	RequestTimeout time.Duration
	// Now is the clock used when a dashboard request has no explicit now.
	Now func() time.Time
	// Graph, when set, reports the referral graph from the last refresh in /healthz.
	Graph func() *referral.GraphSnapshot
}

type server struct {
	Config
}

// New returns the http handler for the read API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Projector == nil || cfg.Teams == nil {
		return nil, errors.New("api requires a projector and a team reader")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = evm.DefaultLookback
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = byta.DefaultClaimLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &server{Config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observe(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", s.getHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/team/{address}", s.getTeam)
	r.Get("/dashboard/{address}", s.getDashboard)
	r.Get("/claims/{address}", s.getClaims)
	return r, nil
}

type healthResponse struct {
	Status string       `json:"status"`
	Graph  *graphHealth `json:"graph,omitempty"`
}

type graphHealth struct {
	NextBlock  uint64       `json:"nextBlock"`
	Edges      int          `json:"edges"`
	Violations int          `json:"violations"`
	Missing    []scan.Range `json:"missing"`
	BuiltAt    time.Time    `json:"builtAt"`
	AgeSeconds float64      `json:"ageSeconds"`
}

func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	resp := healthResponse{Status: "ok"}
	snap := s.Graph()
	if snap == nil {
		resp.Status = "starting"
	} else {
		if snap.Incomplete() {
			resp.Status = "degraded"
		}
		resp.Graph = &graphHealth{
			NextBlock:  snap.NextBlock,
			Edges:      snap.Graph.Len(),
			Violations: len(snap.Graph.Violations()),
			Missing:    snap.Missing,
			BuiltAt:    snap.BuiltAt.UTC(),
			AgeSeconds: s.Now().Sub(snap.BuiltAt).Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// teamResponse is the indexer compatible team body. On a failed lookup the team is empty and Error is set.
type teamResponse struct {
	*referral.Team
	Error string `json:"error,omitempty"`
}

func (s *server) getTeam(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	team, err := s.Teams.TeamOf(r.Context(), addr)
	if err != nil {
		misc.Warnf(s.Logger, "team lookup for %s failed: %v", evm.CanonicalHex(addr), err)
		resp := teamResponse{Team: referral.EmptyTeam(addr, ""), Error: err.Error()}
		resp.Team.Unavailable = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, teamResponse{Team: team})
}

func (s *server) getDashboard(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	now := s.Now().Unix()
	if raw := strings.TrimSpace(r.URL.Query().Get("now")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, errors.New("now must be a non-negative unix timestamp"))
			return
		}
		now = parsed
	}
	snap, err := s.Projector.Project(r.Context(), addr, now)
	if errors.Is(err, dashboard.ErrInvalidAddress) {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) getClaims(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	if s.Claims == nil || s.Scanner == nil {
		writeJSONError(w, http.StatusNotImplemented, byta.ErrNoScanner)
		return
	}
	limit := s.ClaimLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(parsed, 500)
	}
	history, err := s.Claims.ClaimHistory(r.Context(), s.Scanner, addr, s.Lookback, limit)
	if errors.Is(err, byta.ErrUnsupportedContractShape) {
		writeJSONError(w, http.StatusNotImplemented, err)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *server) address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := evm.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return common.Address{}, false
	}
	return addr, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
