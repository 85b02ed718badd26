package apod

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	youtubeID = regexp.MustCompile(`(?:youtube(?:-nocookie)?\.com/(?:embed/|watch\?v=|v/)|youtu\.be/)([A-Za-z0-9_-]{11})`)
	vimeoID   = regexp.MustCompile(`vimeo\.com/(?:video/)?(\d+)`)
)

// Thumbnailer resolves preview images for embedded videos
type Thumbnailer struct {
	client   *http.Client
	vimeoAPI string
}

// NewThumbnailer returns a Thumbnailer querying vimeoAPI for Vimeo videos.
// An empty vimeoAPI selects the public endpoint.
func NewThumbnailer(client *http.Client, vimeoAPI string) *Thumbnailer {
	if vimeoAPI == "" {
		vimeoAPI = "https://vimeo.com/api/v2/video/"
	}
	return &Thumbnailer{client: client, vimeoAPI: vimeoAPI}
}

// Thumbnail returns the thumbnail URL for a video URL, or "" when the host is
// not recognised.
func (t *Thumbnailer) Thumbnail(ctx context.Context, videoURL string) (string, error) {
	if m := youtubeID.FindStringSubmatch(videoURL); m != nil {
		return "https://img.youtube.com/vi/" + m[1] + "/0.jpg", nil
	}

	m := vimeoID.FindStringSubmatch(videoURL)
	if m == nil {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.vimeoAPI+m[1]+".json", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vimeo thumbnail lookup failed: %d", resp.StatusCode)
	}

	var videos []struct {
		ThumbnailLarge string `json:"thumbnail_large"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return "", fmt.Errorf("failed to decode vimeo response: %w", err)
	}
	if len(videos) == 0 {
		return "", nil
	}
	return videos[0].ThumbnailLarge, nil
}

// ConceptTagger extracts ranked concepts from explanation text through an
// AlchemyAPI compatible endpoint
type ConceptTagger struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewConceptTagger returns a tagger. An empty apiKey disables tagging.
func NewConceptTagger(client *http.Client, endpoint, apiKey string) *ConceptTagger {
	return &ConceptTagger{client: client, endpoint: endpoint, apiKey: apiKey}
}

// Enabled reports whether an API key is configured
func (c *ConceptTagger) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Tag returns the concepts of text keyed by rank
func (c *ConceptTagger) Tag(ctx context.Context, text string) (map[string]string, error) {
	form := url.Values{
		"apikey":     {c.apiKey},
		"text":       {text},
		"outputMode": {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("concept tagging failed: %d", resp.StatusCode)
	}

	var body struct {
		Concepts []struct {
			Text string `json:"text"`
		} `json:"concepts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode concepts: %w", err)
	}

	out := make(map[string]string, len(body.Concepts))
	for i, concept := range body.Concepts {
		out[strconv.Itoa(i)] = concept.Text
	}
	return out, nil
}
