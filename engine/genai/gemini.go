package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fundscout/fundscout/engine/domain"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements Generator against the Gemini generateContent REST
// API. Calls are rate-limited client-side; the free tier throttles hard.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	limiter *rate.Limiter
	client  *http.Client
}

var _ Generator = (*Gemini)(nil)

// NewGemini creates a Gemini client for the given model, e.g.
// "gemini-2.0-flash".
func NewGemini(apiKey, model string) *Gemini {
	return &Gemini{
		baseURL: defaultGeminiBase,
		apiKey:  apiKey,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(4*time.Second), 2),
		client:  &http.Client{},
	}
}

type geminiReq struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResp struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt and returns the first candidate's text.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, _ := json.Marshal(geminiReq{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", domain.ErrGenerationUnavailable, resp.StatusCode)
	}

	var result geminiResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrGenerationUnavailable, err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", domain.ErrGenerationUnavailable)
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
