// Package nasa proxies the official NASA APOD API and adds Chinese
// translations of the title and explanation.
package nasa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

var (
	// ErrMissingKey means no NASA API key is configured
	ErrMissingKey = errors.New("nasa api key missing")
	// ErrUnavailable means the NASA API could not be reached
	ErrUnavailable = errors.New("nasa api unavailable")
)

// Translator translates English text to Chinese
type Translator interface {
	ToZH(ctx context.Context, text string) string
}

// Response is the proxied upstream answer
type Response struct {
	Status int
	// Payload is the decoded JSON body, translated when applicable
	Payload any
	// RateLimit and RateRemaining mirror the upstream X-RateLimit headers
	RateLimit     string
	RateRemaining string
}

// Proxy calls the NASA APOD API
type Proxy struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	translator Translator
	log        *zap.SugaredLogger
}

// New creates a Proxy. translator may be nil.
func New(client *http.Client, endpoint, apiKey string, translator Translator, log *zap.SugaredLogger) *Proxy {
	return &Proxy{
		client:     client,
		endpoint:   endpoint,
		apiKey:     apiKey,
		translator: translator,
		log:        log,
	}
}

// Get fetches the APOD for date (empty for today). thumbs is forwarded as is.
func (p *Proxy) Get(ctx context.Context, date, thumbs string) (*Response, error) {
	if p.apiKey == "" {
		return nil, ErrMissingKey
	}

	q := url.Values{"api_key": {p.apiKey}}
	if date != "" {
		q.Set("date", date)
	}
	if thumbs != "" {
		q.Set("thumbs", thumbs)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Errorw("NASA API request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	out := &Response{
		Status:        resp.StatusCode,
		RateLimit:     resp.Header.Get("X-RateLimit-Limit"),
		RateRemaining: resp.Header.Get("X-RateLimit-Remaining"),
	}
	if out.RateLimit != "" || out.RateRemaining != "" {
		p.log.Infow("NASA API usage (rolling hourly reset)",
			"remaining", orUnknown(out.RateRemaining),
			"limit", orUnknown(out.RateLimit))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		out.Payload = map[string]any{"msg": "Invalid response from NASA API."}
		return out, nil
	}

	if doc, ok := payload.(map[string]any); ok && resp.StatusCode == http.StatusOK {
		p.translate(ctx, doc)
	}
	out.Payload = payload
	return out, nil
}

func (p *Proxy) translate(ctx context.Context, doc map[string]any) {
	title, hasTitle := doc["title"]
	explanation, hasExplanation := doc["explanation"]
	if !hasTitle || !hasExplanation {
		return
	}

	doc["title_en"] = title
	doc["explanation_en"] = explanation
	if p.translator == nil {
		return
	}
	if s, ok := title.(string); ok {
		doc["title"] = p.translator.ToZH(ctx, s)
	}
	if s, ok := explanation.(string); ok {
		doc["explanation"] = p.translator.ToZH(ctx, s)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
