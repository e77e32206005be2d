package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/uvensys/sphinx"
)

// Image payloads larger than this are treated as a provider fault.
const maxImageBytes = 16 << 20

// Client talks to a Libre Captcha instance over its v2 HTTP API.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a Client for the Libre Captcha instance at baseURL. Every
// call is bounded by the default provider timeout; a timeout surfaces as
// ErrUnavailable like any other provider fault.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		hc:      &http.Client{Timeout: sphinx.DefaultProviderTimeout},
	}
}

type createRequest struct {
	Media     string `json:"media"`
	Level     string `json:"level"`
	InputType string `json:"input_type"`
	Size      string `json:"size"`
}

type createResponse struct {
	ID string `json:"id"`
}

type answerRequest struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

type answerResponse struct {
	Result string `json:"result"`
}

// CreatePuzzle asks the provider for a new puzzle, then fetches its image.
func (c *Client) CreatePuzzle(ctx context.Context) (Puzzle, error) {
	var created createResponse
	err := c.postJSON(ctx, "/v2/captcha", createRequest{
		Media:     "image/png",
		Level:     "medium",
		InputType: "text",
		Size:      "350x100",
	}, &created)
	if err != nil {
		return Puzzle{}, err
	}

	if created.ID == "" {
		return Puzzle{}, fmt.Errorf("%w: response is missing the puzzle id", ErrUnavailable)
	}

	image, err := c.fetchMedia(ctx, created.ID)
	if err != nil {
		return Puzzle{}, err
	}

	return Puzzle{ID: created.ID, Image: image}, nil
}

// CheckAnswer grades answer against the puzzle identified by puzzleID. The
// provider reports its judgement as a string; anything that is not "true"
// or "expired" counts as an incorrect answer.
func (c *Client) CheckAnswer(ctx context.Context, puzzleID, answer string) (Result, error) {
	var graded answerResponse
	if err := c.postJSON(ctx, "/v2/answer", answerRequest{ID: puzzleID, Answer: answer}, &graded); err != nil {
		return ResultIncorrect, err
	}

	switch strings.ToLower(graded.Result) {
	case "true":
		return ResultCorrect, nil
	case "expired":
		return ResultExpired, nil
	default:
		return ResultIncorrect, nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: can't encode request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s answered with status %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: can't decode response: %w", ErrUnavailable, err)
	}

	return nil
}

func (c *Client) fetchMedia(ctx context.Context, puzzleID string) (string, error) {
	target := c.baseURL + "/v2/media?id=" + url.QueryEscape(puzzleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: media answered with status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: can't read image: %w", ErrUnavailable, err)
	}

	if len(raw) == 0 {
		return "", fmt.Errorf("%w: media response is empty", ErrUnavailable)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}
