package apod

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// AllowedFields lists the query fields accepted by the apod method
var AllowedFields = []string{
	"concept_tags",
	"date",
	"hd",
	"count",
	"start_date",
	"end_date",
	"thumbs",
}

// Mode selects which lookup a request performs
type Mode int

const (
	ModeDate Mode = iota
	ModeRandom
	ModeRange
)

func (m Mode) String() string {
	switch m {
	case ModeDate:
		return "date"
	case ModeRandom:
		return "random"
	case ModeRange:
		return "range"
	}
	return "unknown"
}

// Request holds the raw query fields of an apod call
type Request struct {
	Date        string `form:"date"`
	Count       string `form:"count"`
	StartDate   string `form:"start_date"`
	EndDate     string `form:"end_date"`
	ConceptTags string `form:"concept_tags"`
	Thumbs      string `form:"thumbs"`
	HD          string `form:"hd"`
}

// Flags are the parsed boolean options of a request
type Flags struct {
	ConceptTags bool
	Thumbs      bool
}

// Usage renders the allowed-field sentence with each field wrapped in quote.
// The closing quote of the last field is left to the caller.
func Usage(quote string) string {
	sep := quote + ", " + quote
	return "Allowed request fields for " + MethodName + " method are " + quote + strings.Join(AllowedFields, sep)
}

// ValidateFields reports whether every key in args is an allowed field
func ValidateFields(args url.Values) error {
	for key := range args {
		if !isAllowed(key) {
			return badRequestWithUsage("Bad Request: incorrect field passed.")
		}
	}
	return nil
}

func isAllowed(key string) bool {
	for _, f := range AllowedFields {
		if f == key {
			return true
		}
	}
	return false
}

// ParseBool accepts "true" or "false" in any case. An empty value is false.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "", "false":
		return false, true
	case "true":
		return true, true
	}
	return false, false
}

// Flags validates and parses the boolean options
func (r Request) Flags() (Flags, error) {
	ct, ok1 := ParseBool(r.ConceptTags)
	th, ok2 := ParseBool(r.Thumbs)
	if !ok1 || !ok2 {
		return Flags{}, badRequestWithUsage("Bad Request: concept_tags and thumbs must be boolean values.")
	}
	return Flags{ConceptTags: ct, Thumbs: th}, nil
}

// Mode picks the lookup for the combination of fields present
func (r Request) Mode() (Mode, error) {
	switch {
	case r.Count == "" && r.StartDate == "" && r.EndDate == "":
		return ModeDate, nil
	case r.Date == "" && r.StartDate == "" && r.EndDate == "" && r.Count != "":
		return ModeRandom, nil
	case r.Count == "" && r.Date == "" && r.StartDate != "":
		return ModeRange, nil
	}
	return 0, badRequestWithUsage("Bad Request: invalid field combination passed.")
}

// ParseCount parses the count field of a random request
func ParseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, badRequest(fmt.Sprintf("invalid literal for count: '%s'", s))
	}
	if n > 100 || n <= 0 {
		return 0, badRequest("Count must be positive and cannot exceed 100")
	}
	return n, nil
}

// ParseDate parses a YYYY-MM-DD date. Single digit months and days are
// accepted.
func ParseDate(s string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d, nil
	}
	if d, err := time.Parse("2006-1-2", s); err == nil {
		return d, nil
	}
	return time.Time{}, badRequest(fmt.Sprintf("time data '%s' does not match format '%%Y-%%m-%%d'", s))
}

// ValidateDate checks that d falls between FirstDate and today inclusive
func ValidateDate(d, today time.Time) error {
	today = truncateDay(today)
	if d.After(today) || d.Before(FirstDate) {
		return badRequest(fmt.Sprintf("Date must be between %s and %s.",
			FirstDate.Format("Jan 02, 2006"), today.Format("Jan 02, 2006")))
	}
	return nil
}

// CacheKey identifies a cached entry by date and enrichment options
func CacheKey(d time.Time, f Flags) string {
	return fmt.Sprintf("%dy%dm%dd%s%s", d.Year(), int(d.Month()), d.Day(), pyBool(f.ConceptTags), pyBool(f.Thumbs))
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
