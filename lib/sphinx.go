// Package lib is the HTTP surface of the verification gateway. It exposes
// the challenge lifecycle as a small JSON API and maps lifecycle errors to
// transport statuses.
package lib

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uvensys/sphinx"
	"github.com/uvensys/sphinx/internal"
	"github.com/uvensys/sphinx/lib/challenge"
	"github.com/uvensys/sphinx/lib/credential"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sphinx_challenges_issued",
		Help: "The total number of challenges issued",
	})

	solveAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_solve_attempts_total",
		Help: "The total number of solve attempts by outcome",
	}, []string{"outcome"})

	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_token_verifications_total",
		Help: "The total number of token verifications by outcome",
	}, []string{"outcome"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sphinx_auth_failures_total",
		Help: "The total number of rejected credentials by endpoint",
	}, []string{"endpoint"})
)

// Stable client-facing strings for transport-level failures. Business
// outcomes carry their message inside the lifecycle results instead.
const (
	msgBadCredentials     = "Incorrect credentials. Please check and try again."
	msgProviderDown       = "CAPTCHA service unavailable."
	msgChallengeNotFound  = "Challenge ID not found or has expired."
	msgChallengeUsed      = "Challenge has already been used."
	msgBadTokenFormat     = "Invalid token format."
	msgInternal           = "Internal server error."
	msgChallengeIDMissing = "challenge_id field is required."
	msgAnswerMissing      = "answer field is required."
	msgClientIDMissing    = "client_id field is required."
	msgSecretMissing      = "client_secret field is required."
	msgTokenMissing       = "token field is required."
)

type newRequest struct {
	ClientID string `json:"client_id"`
}

type newResponse struct {
	ChallengeID string `json:"challenge_id"`
	Image       string `json:"image"`
}

type solveRequest struct {
	ClientID    string `json:"client_id"`
	ChallengeID string `json:"challenge_id"`
	Answer      string `json:"answer"`
}

type solveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

type verifyRequest struct {
	ClientSecret string `json:"client_secret"`
	Token        string `json:"token"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Server is the gateway. It owns the request mux and the lifecycle engine
// and implements http.Handler.
type Server struct {
	mux       *http.ServeMux
	lifecycle *challenge.Lifecycle
	opts      Options
}

// New validates opts and builds a ready-to-serve gateway.
func New(opts Options) (*Server, error) {
	if err := opts.Valid(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	result := &Server{
		lifecycle: challenge.NewLifecycle(
			opts.Store,
			opts.Provider,
			credential.New(opts.ClientID, opts.ClientSecret),
			opts.ChallengeTTL,
		),
		opts: opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+sphinx.APIPrefix+"/new", result.createChallenge)
	mux.HandleFunc("POST "+sphinx.APIPrefix+"/solve", result.solveChallenge)
	mux.HandleFunc("POST "+sphinx.APIPrefix+"/verify", result.verifyToken)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	result.mux = mux

	return result, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req newRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		respondError(w, http.StatusBadRequest, msgClientIDMissing)
		return
	}

	res, err := s.lifecycle.Create(r.Context(), req.ClientID)
	if err != nil {
		s.respondLifecycleError(w, r, "new", err)
		return
	}

	challengesIssued.Inc()
	lg.Info("challenge issued", "challengeId", res.ChallengeID)
	respondJSON(w, http.StatusOK, newResponse{
		ChallengeID: res.ChallengeID,
		Image:       res.Image,
	})
}

func (s *Server) solveChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req solveRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		respondError(w, http.StatusBadRequest, msgClientIDMissing)
		return
	}
	if req.ChallengeID == "" {
		respondError(w, http.StatusBadRequest, msgChallengeIDMissing)
		return
	}
	if req.Answer == "" {
		respondError(w, http.StatusBadRequest, msgAnswerMissing)
		return
	}

	res, err := s.lifecycle.Solve(r.Context(), req.ClientID, req.ChallengeID, req.Answer)
	if err != nil {
		s.respondLifecycleError(w, r, "solve", err)
		return
	}

	if res.OK {
		solveAttempts.WithLabelValues("solved").Inc()
	} else {
		solveAttempts.WithLabelValues("failed").Inc()
	}
	lg.Info("solve attempt", "challengeId", req.ChallengeID, "success", res.OK)

	respondJSON(w, http.StatusOK, solveResponse{
		Success: res.OK,
		Message: res.Message,
		Token:   res.Token,
	})
}

func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req verifyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ClientSecret == "" {
		respondError(w, http.StatusBadRequest, msgSecretMissing)
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, msgTokenMissing)
		return
	}

	res, err := s.lifecycle.Verify(r.Context(), req.ClientSecret, req.Token)
	if err != nil {
		s.respondLifecycleError(w, r, "verify", err)
		return
	}

	if res.OK {
		tokenVerifications.WithLabelValues("verified").Inc()
	} else {
		tokenVerifications.WithLabelValues("rejected").Inc()
	}
	lg.Info("token verification", "success", res.OK)

	respondJSON(w, http.StatusOK, verifyResponse{
		Success: res.OK,
		Message: res.Message,
	})
}

// respondLifecycleError maps lifecycle sentinel errors to transport
// statuses and stable messages. Anything unrecognized is a 500 with a
// generic body so internals never leak.
func (s *Server) respondLifecycleError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	lg := internal.GetRequestLogger(r)

	switch {
	case errors.Is(err, challenge.ErrUnauthorized):
		authFailures.WithLabelValues(endpoint).Inc()
		respondError(w, http.StatusUnauthorized, msgBadCredentials)
	case errors.Is(err, challenge.ErrProviderUnavailable):
		lg.Error("captcha provider unavailable", "err", err)
		respondError(w, http.StatusServiceUnavailable, msgProviderDown)
	case errors.Is(err, challenge.ErrNotFound):
		respondError(w, http.StatusNotFound, msgChallengeNotFound)
	case errors.Is(err, challenge.ErrAlreadyUsed):
		respondError(w, http.StatusBadRequest, msgChallengeUsed)
	case errors.Is(err, challenge.ErrMalformedToken):
		respondError(w, http.StatusBadRequest, msgBadTokenFormat)
	case errors.Is(err, challenge.ErrMissingField):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		lg.Error("request failed", "endpoint", endpoint, "err", err)
		respondError(w, http.StatusInternalServerError, msgInternal)
	}
}
