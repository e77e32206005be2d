package lib

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/uvensys/sphinx/lib/provider/providertest"
	"github.com/uvensys/sphinx/lib/store/memory"
)

const (
	testClientID     = "gateway-client-id"
	testClientSecret = "gateway-client-secret"
	testAnswer       = "hunter2"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func spawnGateway(t *testing.T, fake *providertest.Fake) *httptest.Server {
	t.Helper()

	s, err := New(Options{
		Store:        memory.New(t.Context(), 1000),
		Provider:     fake,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		ChallengeTTL: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("can't decode response body: %v", err)
		}
	}

	return resp.StatusCode
}

type apiResponse struct {
	ChallengeID string `json:"challenge_id"`
	Image       string `json:"image"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Token       string `json:"token"`
	Error       string `json:"error"`
}

func createChallengeID(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	var out apiResponse
	if status := postJSON(t, srv.URL+"/v1/new", map[string]string{"client_id": testClientID}, &out); status != http.StatusOK {
		t.Fatalf("create failed with status %d: %q", status, out.Error)
	}
	return out.ChallengeID
}

func TestCreateChallenge(t *testing.T) {
	fake := &providertest.Fake{Answer: testAnswer}
	srv := spawnGateway(t, fake)

	var out apiResponse
	status := postJSON(t, srv.URL+"/v1/new", map[string]string{"client_id": testClientID}, &out)

	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d", status)
	}
	if !hexID.MatchString(out.ChallengeID) {
		t.Errorf("challenge_id is not 32 hex characters: %q", out.ChallengeID)
	}
	if out.Image == "" {
		t.Error("image payload is empty")
	}
	if out.ChallengeID == fake.LastPuzzleID() {
		t.Error("challenge_id must not equal the provider's puzzle id")
	}
}

func TestCreateChallengeErrors(t *testing.T) {
	for _, tt := range []struct {
		name       string
		fake       *providertest.Fake
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad credential",
			fake:       &providertest.Fake{},
			body:       map[string]string{"client_id": "wrong"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Incorrect credentials. Please check and try again.",
		},
		{
			name:       "missing client_id",
			fake:       &providertest.Fake{},
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantError:  "client_id field is required.",
		},
		{
			name:       "provider down",
			fake:       &providertest.Fake{Down: true},
			body:       map[string]string{"client_id": testClientID},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "CAPTCHA service unavailable.",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnGateway(t, tt.fake)

			var out apiResponse
			status := postJSON(t, srv.URL+"/v1/new", tt.body, &out)

			if status != tt.wantStatus {
				t.Errorf("wanted status %d, got: %d", tt.wantStatus, status)
			}
			if out.Error != tt.wantError {
				t.Errorf("wanted error %q, got: %q", tt.wantError, out.Error)
			}
		})
	}
}

func TestSolveChallenge(t *testing.T) {
	fake := &providertest.Fake{Answer: testAnswer}
	srv := spawnGateway(t, fake)
	challengeID := createChallengeID(t, srv)

	var out apiResponse
	status := postJSON(t, srv.URL+"/v1/solve", map[string]string{
		"client_id":    testClientID,
		"challenge_id": challengeID,
		"answer":       testAnswer,
	}, &out)

	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d", status)
	}
	if !out.Success {
		t.Fatalf("wanted a successful solve, got: %q", out.Message)
	}
	if out.Message != "CAPTCHA solved successfully." {
		t.Errorf("wrong message: %q", out.Message)
	}

	id, _, found := strings.Cut(out.Token, "-")
	if !found || id != challengeID {
		t.Errorf("token does not open with the challenge_id: %q", out.Token)
	}

	// the attempt is spent, any retry is a transport error
	status = postJSON(t, srv.URL+"/v1/solve", map[string]string{
		"client_id":    testClientID,
		"challenge_id": challengeID,
		"answer":       testAnswer,
	}, &out)

	if status != http.StatusBadRequest {
		t.Errorf("wanted 400 on the second solve, got: %d", status)
	}
	if out.Error != "Challenge has already been used." {
		t.Errorf("wrong error: %q", out.Error)
	}
}

func TestSolveWrongAnswer(t *testing.T) {
	fake := &providertest.Fake{Answer: testAnswer}
	srv := spawnGateway(t, fake)
	challengeID := createChallengeID(t, srv)

	var out apiResponse
	status := postJSON(t, srv.URL+"/v1/solve", map[string]string{
		"client_id":    testClientID,
		"challenge_id": challengeID,
		"answer":       "nope",
	}, &out)

	// a wrong answer is an in-band failure, not a transport error
	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d", status)
	}
	if out.Success {
		t.Error("a wrong answer must not succeed")
	}
	if out.Token != "" {
		t.Errorf("a failed solve must not carry a token, got: %q", out.Token)
	}
	if out.Message != "Captcha verification failed. Incorrect answer." {
		t.Errorf("wrong message: %q", out.Message)
	}
}

func TestSolveErrors(t *testing.T) {
	for _, tt := range []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad credential",
			body:       map[string]string{"client_id": "wrong", "challenge_id": "deadbeefdeadbeefdeadbeefdeadbeef", "answer": "x"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Incorrect credentials. Please check and try again.",
		},
		{
			name:       "unknown challenge",
			body:       map[string]string{"client_id": testClientID, "challenge_id": "deadbeefdeadbeefdeadbeefdeadbeef", "answer": "x"},
			wantStatus: http.StatusNotFound,
			wantError:  "Challenge ID not found or has expired.",
		},
		{
			name:       "missing challenge_id",
			body:       map[string]string{"client_id": testClientID, "answer": "x"},
			wantStatus: http.StatusBadRequest,
			wantError:  "challenge_id field is required.",
		},
		{
			name:       "missing answer",
			body:       map[string]string{"client_id": testClientID, "challenge_id": "deadbeefdeadbeefdeadbeefdeadbeef"},
			wantStatus: http.StatusBadRequest,
			wantError:  "answer field is required.",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnGateway(t, &providertest.Fake{Answer: testAnswer})

			var out apiResponse
			status := postJSON(t, srv.URL+"/v1/solve", tt.body, &out)

			if status != tt.wantStatus {
				t.Errorf("wanted status %d, got: %d", tt.wantStatus, status)
			}
			if out.Error != tt.wantError {
				t.Errorf("wanted error %q, got: %q", tt.wantError, out.Error)
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	fake := &providertest.Fake{Answer: testAnswer}
	srv := spawnGateway(t, fake)
	challengeID := createChallengeID(t, srv)

	var solved apiResponse
	if status := postJSON(t, srv.URL+"/v1/solve", map[string]string{
		"client_id":    testClientID,
		"challenge_id": challengeID,
		"answer":       testAnswer,
	}, &solved); status != http.StatusOK || !solved.Success {
		t.Fatalf("solve failed: status %d, message %q", status, solved.Message)
	}

	var out apiResponse
	status := postJSON(t, srv.URL+"/v1/verify", map[string]string{
		"client_secret": testClientSecret,
		"token":         solved.Token,
	}, &out)

	if status != http.StatusOK {
		t.Fatalf("wanted 200, got: %d", status)
	}
	if !out.Success {
		t.Fatalf("wanted the token to verify, got: %q", out.Message)
	}
	if out.Message != "Token verified successfully." {
		t.Errorf("wrong message: %q", out.Message)
	}

	// redemption is exactly-once; unlike solve, the failure stays in-band
	status = postJSON(t, srv.URL+"/v1/verify", map[string]string{
		"client_secret": testClientSecret,
		"token":         solved.Token,
	}, &out)

	if status != http.StatusOK {
		t.Errorf("wanted 200 on the second verify, got: %d", status)
	}
	if out.Success {
		t.Error("a token must not verify twice")
	}
	if out.Message != "Challenge ID not found or has expired." {
		t.Errorf("wrong message: %q", out.Message)
	}
}

func TestVerifyInBandFailures(t *testing.T) {
	fake := &providertest.Fake{Answer: testAnswer}
	srv := spawnGateway(t, fake)
	challengeID := createChallengeID(t, srv)

	for _, tt := range []struct {
		name        string
		token       string
		wantMessage string
	}{
		{
			name:        "unknown challenge",
			token:       "deadbeefdeadbeefdeadbeefdeadbeef-" + strings.Repeat("0", 64),
			wantMessage: "Challenge ID not found or has expired.",
		},
		{
			name:        "challenge not solved",
			token:       challengeID + "-" + strings.Repeat("0", 64),
			wantMessage: "CAPTCHA challenge has not been solved yet.",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out apiResponse
			status := postJSON(t, srv.URL+"/v1/verify", map[string]string{
				"client_secret": testClientSecret,
				"token":         tt.token,
			}, &out)

			if status != http.StatusOK {
				t.Errorf("wanted 200, got: %d", status)
			}
			if out.Success {
				t.Error("verification must fail")
			}
			if out.Message != tt.wantMessage {
				t.Errorf("wanted message %q, got: %q", tt.wantMessage, out.Message)
			}
		})
	}
}

func TestVerifyErrors(t *testing.T) {
	for _, tt := range []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad credential",
			body:       map[string]string{"client_secret": "wrong", "token": "a-b"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Incorrect credentials. Please check and try again.",
		},
		{
			name:       "public identifier instead of secret",
			body:       map[string]string{"client_secret": testClientID, "token": "a-b"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Incorrect credentials. Please check and try again.",
		},
		{
			name:       "missing client_secret",
			body:       map[string]string{"token": "a-b"},
			wantStatus: http.StatusBadRequest,
			wantError:  "client_secret field is required.",
		},
		{
			name:       "missing token",
			body:       map[string]string{"client_secret": testClientSecret},
			wantStatus: http.StatusBadRequest,
			wantError:  "token field is required.",
		},
		{
			name:       "token without separator",
			body:       map[string]string{"client_secret": testClientSecret, "token": "noseparatorhere"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid token format.",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnGateway(t, &providertest.Fake{Answer: testAnswer})

			var out apiResponse
			status := postJSON(t, srv.URL+"/v1/verify", tt.body, &out)

			if status != tt.wantStatus {
				t.Errorf("wanted status %d, got: %d", tt.wantStatus, status)
			}
			if out.Error != tt.wantError {
				t.Errorf("wanted error %q, got: %q", tt.wantError, out.Error)
			}
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	srv := spawnGateway(t, &providertest.Fake{})

	resp, err := http.Post(srv.URL+"/v1/new", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("wanted 400, got: %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := spawnGateway(t, &providertest.Fake{})

	for _, path := range []string{"/v1/new", "/v1/solve", "/v1/verify"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: wanted 405, got: %d", path, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := spawnGateway(t, &providertest.Fake{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("wanted 200, got: %d", resp.StatusCode)
	}
}

func TestOptionsValid(t *testing.T) {
	fake := &providertest.Fake{}

	for _, tt := range []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name:    "no store",
			opts:    Options{Provider: fake, ClientID: "a", ClientSecret: "b"},
			wantErr: ErrNoStore,
		},
		{
			name:    "no provider",
			opts:    Options{Store: memory.New(t.Context(), 0), ClientID: "a", ClientSecret: "b"},
			wantErr: ErrNoProvider,
		},
		{
			name:    "no client id",
			opts:    Options{Store: memory.New(t.Context(), 0), Provider: fake, ClientSecret: "b"},
			wantErr: ErrNoClientID,
		},
		{
			name:    "no client secret",
			opts:    Options{Store: memory.New(t.Context(), 0), Provider: fake, ClientID: "a"},
			wantErr: ErrNoClientSecret,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("wanted %v, got: %v", tt.wantErr, err)
			}
		})
	}
}
