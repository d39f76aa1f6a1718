package redaction

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"speech-audit-pipeline/internal/models"
)

// Entity is a named entity found in text, as a byte span.
type Entity struct {
	Label string
	Span  models.Span
}

// EntityDetector finds named entities. Only PERSON entities are redacted.
type EntityDetector interface {
	Name() string
	Entities(ctx context.Context, text string) ([]Entity, error)
}

const labelPerson = "PERSON"

// ---- HTTP entity service ----

// HTTPDetectorConfig configures a spaCy-style entity service.
type HTTPDetectorConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// HTTPDetector calls an entity service that accepts {"text","model"} and
// returns {"ents":[{"start","end","label"}]} with rune offsets, as spaCy does.
type HTTPDetector struct {
	cfg    HTTPDetectorConfig
	client *http.Client
}

// NewHTTPDetector creates a detector for the entity service at cfg.URL.
func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPDetector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name implements EntityDetector.
func (d *HTTPDetector) Name() string { return "ner-http" }

type nerRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type nerResponse struct {
	Ents []struct {
		Start int    `json:"start"`
		End   int    `json:"end"`
		Label string `json:"label"`
	} `json:"ents"`
}

// Entities implements EntityDetector.
func (d *HTTPDetector) Entities(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(nerRequest{Text: text, Model: d.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("encode ner request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ner service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ner response: %w", err)
	}

	offsets := runeOffsets(text)
	runes := len(offsets) - 1
	out := make([]Entity, 0, len(parsed.Ents))
	for _, e := range parsed.Ents {
		if e.Start < 0 || e.End > runes || e.Start >= e.End {
			return nil, fmt.Errorf("ner service returned out-of-range span [%d,%d)", e.Start, e.End)
		}
		out = append(out, Entity{
			Label: e.Label,
			Span:  models.Span{Start: offsets[e.Start], End: offsets[e.End]},
		})
	}
	return out, nil
}

// runeOffsets maps rune index to byte offset, with a final entry for len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// ---- built-in gazetteer ----

//go:embed names.txt
var namesFile string

//go:embed organizations.txt
var organizationsFile string

var (
	// "my name is anna", "this is Anna Lee"
	cuePattern      = regexp.MustCompile(`(?i:\b(?:my name is|this is|is this|i am|i'm|call me|speaking with|talking to|ask for)\s+)(\p{L}+)`)
	capitalizedWord = regexp.MustCompile(`\b\p{Lu}\p{Ll}+\b`)
	surnameGap      = regexp.MustCompile(`^[ \t]+$`)
	// "Acme support", "Northwind bank"
	orgSuffix = regexp.MustCompile(`^[ \t]+(?i:support|team|bank|banking|services?|department|customer|billing|insurance|airlines?|store|helpdesk|help desk)\b`)
)

// words that follow cue phrases or capitalized names but are never names
var notNames = map[string]bool{
	"a": true, "an": true, "the": true, "not": true, "just": true, "so": true,
	"very": true, "really": true, "calling": true, "about": true, "here": true,
	"it": true, "my": true, "your": true, "our": true, "going": true, "sorry": true,
	"fine": true, "good": true, "great": true, "that": true, "what": true, "why": true,
	"how": true, "correct": true, "right": true, "sure": true, "and": true, "or": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "i": true, "is": true, "from": true,
}

// GazetteerDetector finds PERSON names offline from cue phrases and an
// embedded list of common first names.
type GazetteerDetector struct {
	names map[string]bool
	orgs  map[string]bool
}

// NewGazetteerDetector builds the detector from the embedded name list plus extra names.
func NewGazetteerDetector(extra ...string) *GazetteerDetector {
	d := &GazetteerDetector{names: wordSet(namesFile), orgs: wordSet(organizationsFile)}
	for _, n := range extra {
		d.names[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return d
}

// Name implements EntityDetector.
func (d *GazetteerDetector) Name() string { return "ner-gazetteer" }

// Entities implements EntityDetector. It never fails.
func (d *GazetteerDetector) Entities(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	caps := capitalizedWord.FindAllStringIndex(text, -1)

	// after a cue: a known name in any case, or a capitalized word that is
	// not an organization
	for _, m := range cuePattern.FindAllStringSubmatchIndex(text, -1) {
		first := text[m[2]:m[3]]
		lower := strings.ToLower(first)
		if notNames[lower] {
			continue
		}
		if !d.names[lower] && (!startsUpper(first) || d.isOrganization(text, m[2], m[3])) {
			continue
		}
		out = append(out, Entity{Label: labelPerson, Span: models.Span{Start: m[2], End: withSurname(text, m[3], caps)}})
	}

	// anywhere: a capitalized known first name
	for _, m := range caps {
		if !d.names[strings.ToLower(text[m[0]:m[1]])] {
			continue
		}
		out = append(out, Entity{Label: labelPerson, Span: models.Span{Start: m[0], End: withSurname(text, m[1], caps)}})
	}
	return out, nil
}

// withSurname extends a name ending at end over a directly following capitalized word.
func withSurname(text string, end int, caps [][]int) int {
	for _, c := range caps {
		if c[0] <= end {
			continue
		}
		if surnameGap.MatchString(text[end:c[0]]) && !notNames[strings.ToLower(text[c[0]:c[1]])] {
			return c[1]
		}
		break
	}
	return end
}

// isOrganization reports whether the word at [start, end) is a known
// organization or is followed by a word like "support" or "bank".
func (d *GazetteerDetector) isOrganization(text string, start, end int) bool {
	return d.orgs[strings.ToLower(text[start:end])] || orgSuffix.MatchString(text[end:])
}

func wordSet(list string) map[string]bool {
	set := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(list))
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" {
			set[strings.ToLower(w)] = true
		}
	}
	return set
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
