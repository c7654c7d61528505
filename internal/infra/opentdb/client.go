package opentdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"timed-quiz-service/internal/domain"
)

// DefaultBaseURL is the public Open Trivia DB endpoint.
const DefaultBaseURL = "https://opentdb.com"

// Client fetches questions from an Open Trivia DB compatible service.
// One call per session; failures are fatal to the attempt and surface as
// domain.ErrQuestionFetch with no automatic retry.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	ResponseCode int         `json:"response_code"`
	Results      []apiResult `json:"results"`
}

type apiResult struct {
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Fetch requests exactly amount questions. Text fields come back with
// HTML entities intact and are passed through untouched.
func (c *Client) Fetch(ctx context.Context, amount int) ([]domain.RawQuestion, error) {
	url := fmt.Sprintf("%s/api.php?amount=%d", c.baseURL, amount)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrQuestionFetch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuestionFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrQuestionFetch, resp.StatusCode)
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrQuestionFetch, err)
	}
	if payload.ResponseCode != 0 || len(payload.Results) == 0 {
		return nil, fmt.Errorf("%w: empty or rejected result set (code %d)", domain.ErrQuestionFetch, payload.ResponseCode)
	}

	raw := make([]domain.RawQuestion, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.Question == "" || r.CorrectAnswer == "" || len(r.IncorrectAnswers) == 0 {
			return nil, fmt.Errorf("%w: malformed question in result set", domain.ErrQuestionFetch)
		}
		raw = append(raw, domain.RawQuestion{
			Text:             r.Question,
			CorrectAnswer:    r.CorrectAnswer,
			IncorrectAnswers: r.IncorrectAnswers,
		})
	}
	return raw, nil
}
