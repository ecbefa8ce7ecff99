package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Analyzer is the external moderation/sentiment oracle.
type Analyzer interface {
	Moderate(ctx context.Context, messageID, text string) (ModerateResult, error)
	Sentiment(ctx context.Context, messageID, text string) (SentimentResult, error)
}

// ModerateResult is the analyzer's flagging verdict.
type ModerateResult struct {
	Flagged    bool     `json:"flagged"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

// SentimentResult is the analyzer's sentiment verdict.
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// HTTPAnalyzer calls the analyzer service over HTTP. Every call carries
// a deadline; a slow analyzer degrades to the default verdict instead of
// stalling the pipeline.
type HTTPAnalyzer struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewHTTPAnalyzer creates a client for the analyzer at baseURL. secret,
// when non-empty, is sent as X-Service-Secret on every request.
func NewHTTPAnalyzer(baseURL, secret string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAnalyzer{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

func (a *HTTPAnalyzer) post(ctx context.Context, path, messageID, text string, out any) error {
	payload, err := json.Marshal(analyzeRequest{Text: text, MessageID: messageID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.secret != "" {
		req.Header.Set("X-Service-Secret", a.secret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *HTTPAnalyzer) Moderate(ctx context.Context, messageID, text string) (ModerateResult, error) {
	var result ModerateResult
	err := a.post(ctx, "/moderate", messageID, text, &result)
	return result, err
}

func (a *HTTPAnalyzer) Sentiment(ctx context.Context, messageID, text string) (SentimentResult, error) {
	var result SentimentResult
	err := a.post(ctx, "/sentiment", messageID, text, &result)
	return result, err
}
