// Package translate renders English APOD text in Chinese, using
// LibreTranslate with Google's public endpoint as a fallback.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Cache stores translations keyed by source text
type Cache interface {
	GetTranslation(ctx context.Context, source string) (string, bool, error)
	PutTranslation(ctx context.Context, source, translated string) error
}

// Config configures a Translator
type Config struct {
	Enabled      bool
	LibreURL     string
	GoogleURL    string
	SourceLang   string
	LibreTarget  string
	GoogleTarget string
}

// Translator translates text and remembers the results
type Translator struct {
	cfg    Config
	client *http.Client
	cache  Cache
	log    *zap.SugaredLogger
}

var errEmpty = errors.New("empty translation")

// New creates a Translator. cache may be nil.
func New(cfg Config, client *http.Client, cache Cache, log *zap.SugaredLogger) *Translator {
	if cfg.SourceLang == "" {
		cfg.SourceLang = "en"
	}
	if cfg.LibreTarget == "" {
		cfg.LibreTarget = "zh"
	}
	if cfg.GoogleTarget == "" {
		cfg.GoogleTarget = "zh-CN"
	}
	return &Translator{cfg: cfg, client: client, cache: cache, log: log}
}

// ToZH returns text in Chinese. Failures are logged and the input returned
// unchanged.
func (t *Translator) ToZH(ctx context.Context, text string) string {
	if text == "" || !t.cfg.Enabled {
		return text
	}

	if t.cache != nil {
		cached, ok, err := t.cache.GetTranslation(ctx, text)
		if err != nil {
			t.log.Warnw("translation cache read failed", "error", err)
		} else if ok {
			return cached
		}
	}

	translated, err := t.libre(ctx, text)
	if err != nil {
		t.log.Warnw("LibreTranslate request failed", "error", err)
		translated, err = t.google(ctx, text)
	}
	if err != nil {
		t.log.Warnw("translation request failed", "error", err)
		return text
	}

	if t.cache != nil {
		if err := t.cache.PutTranslation(ctx, text, translated); err != nil {
			t.log.Warnw("translation cache write failed", "error", err)
		}
	}
	return translated
}

func (t *Translator) libre(ctx context.Context, text string) (string, error) {
	if t.cfg.LibreURL == "" {
		return "", errors.New("LibreTranslate is not configured")
	}

	form := url.Values{
		"q":      {text},
		"source": {t.cfg.SourceLang},
		"target": {t.cfg.LibreTarget},
		"format": {"text"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.LibreURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LibreTranslate returned %d", resp.StatusCode)
	}

	var body struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid LibreTranslate response: %w", err)
	}
	if body.TranslatedText == "" {
		return "", errEmpty
	}
	return body.TranslatedText, nil
}

func (t *Translator) google(ctx context.Context, text string) (string, error) {
	if t.cfg.GoogleURL == "" {
		return "", errors.New("Google translation is not configured")
	}

	q := url.Values{
		"client": {"gtx"},
		"sl":     {t.cfg.SourceLang},
		"tl":     {t.cfg.GoogleTarget},
		"dt":     {"t"},
		"q":      {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.GoogleURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Google translate returned %d", resp.StatusCode)
	}

	// The response is [[["translated","source",...], ...], ...]
	var body []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid Google translate response: %w", err)
	}
	if len(body) == 0 {
		return "", errEmpty
	}

	var segments [][]any
	if err := json.Unmarshal(body[0], &segments); err != nil {
		return "", fmt.Errorf("invalid Google translate segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			sb.WriteString(s)
		}
	}
	if sb.Len() == 0 {
		return "", errEmpty
	}
	return sb.String(), nil
}
