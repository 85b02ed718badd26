// Package apod scrapes, enriches and caches Astronomy Picture of the Day
// entries.
package apod

import (
	"errors"
	"time"
)

const (
	// ServiceVersion is reported in every entry and error body
	ServiceVersion = "v1"
	// MethodName is the public method path segment
	MethodName = "apod"

	conceptsDisabled = "concept_tags functionality turned off in current service"
)

// Media types reported in Entry.MediaType
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaOther = "other"
)

var (
	// ErrInvalidRequest marks client errors
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound means APOD has no entry for the requested date
	ErrNotFound = errors.New("no data available")
	// ErrUpstream means scraping or enrichment failed
	ErrUpstream = errors.New("upstream failure")
)

// FirstDate is the date of the first APOD image
var FirstDate = time.Date(1995, time.June, 16, 0, 0, 0, 0, time.UTC)

// Entry is the enriched metadata for one APOD day
type Entry struct {
	Copyright      string `json:"copyright,omitempty"`
	Date           string `json:"date"`
	Explanation    string `json:"explanation"`
	HDURL          string `json:"hdurl,omitempty"`
	MediaType      string `json:"media_type"`
	ServiceVersion string `json:"service_version"`
	ThumbnailURL   string `json:"thumbnail_url,omitempty"`
	Title          string `json:"title"`
	URL            string `json:"url,omitempty"`
	// Concepts is either a map of rank to concept text, or a string when
	// tagging is unavailable.
	Concepts any `json:"concepts,omitempty"`
}

// Day parses the entry's date
func (e *Entry) Day() (time.Time, error) {
	return time.Parse(dateLayout, e.Date)
}

// RequestError is a client error. Usage asks for the allowed-field sentence to
// be appended to the message.
type RequestError struct {
	Msg   string
	Usage bool
}

func (e *RequestError) Error() string { return e.Msg }

func (e *RequestError) Unwrap() error { return ErrInvalidRequest }

func badRequest(msg string) error { return &RequestError{Msg: msg} }

func badRequestWithUsage(msg string) error { return &RequestError{Msg: msg, Usage: true} }
