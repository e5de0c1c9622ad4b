// Package classifier turns scraped page text into a touchless verdict using an AI completion service.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/touchless-directory/internal/adapter"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/metrics"
)

const (
	defaultMaxChars   = 12000
	defaultMaxGallery = 8
	maxEvidenceChars  = 500
)

// Verdict is the parsed classification of one page
type Verdict struct {
	// IsTouchless is nil when the page carries no signal either way
	IsTouchless *bool
	Evidence    string
	Amenities   []string
}

// PhotoSelection is the parsed answer to a photo selection request
type PhotoSelection struct {
	HeroIndex      *int  `json:"hero_index"`
	LogoIndex      *int  `json:"logo_index"`
	GalleryIndices []int `json:"gallery_indices"`
	NoGoodPhotos   bool  `json:"no_good_photos"`
}

// Classifier classifies page text
type Classifier struct {
	completer  adapter.Completer
	maxChars   int
	maxGallery int
	system     string
	amenities  map[string]struct{}
}

// New creates a classifier. maxChars bounds the page text sent per call.
func New(completer adapter.Completer, maxChars int) *Classifier {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	known := make(map[string]struct{}, len(KnownAmenities))
	for _, a := range KnownAmenities {
		known[a] = struct{}{}
	}
	return &Classifier{
		completer:  completer,
		maxChars:   maxChars,
		maxGallery: defaultMaxGallery,
		system:     fmt.Sprintf(touchlessInstructions, strings.Join(KnownAmenities, ", ")),
		amenities:  known,
	}
}

// Classify sends the page text to the AI service and parses its verdict.
// Any call or parse failure is returned as a classification error.
func (c *Classifier) Classify(ctx context.Context, pageText string) (*Verdict, error) {
	start := time.Now()
	reply, err := c.completer.Complete(ctx, c.system, Truncate(pageText, c.maxChars))
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("call_failed").Inc()
		return nil, apperrors.NewClassificationError("classifier call failed", err)
	}

	verdict, err := c.ParseVerdict(reply)
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("parse_failed").Inc()
		return nil, err
	}

	switch {
	case verdict.IsTouchless == nil:
		metrics.ClassifierCalls.WithLabelValues("unknown").Inc()
	case *verdict.IsTouchless:
		metrics.ClassifierCalls.WithLabelValues("touchless").Inc()
	default:
		metrics.ClassifierCalls.WithLabelValues("not_touchless").Inc()
	}
	return verdict, nil
}

type verdictJSON struct {
	Verdict   json.RawMessage `json:"verdict"`
	Evidence  string          `json:"evidence"`
	Amenities []string        `json:"amenities"`
}

// ParseVerdict extracts the first JSON object from reply and decodes it
func (c *Classifier) ParseVerdict(reply string) (*Verdict, error) {
	obj, ok := ExtractJSONObject(reply)
	if !ok {
		return nil, apperrors.NewClassificationError("no JSON object in response", nil)
	}

	var raw verdictJSON
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, apperrors.NewClassificationError("malformed JSON in response", err)
	}

	v := &Verdict{
		Evidence:  truncateEvidence(strings.TrimSpace(raw.Evidence)),
		Amenities: c.normalizeAmenities(raw.Amenities),
	}

	switch strings.TrimSpace(string(raw.Verdict)) {
	case "", "null":
	case "true":
		t := true
		v.IsTouchless = &t
	case "false":
		f := false
		v.IsTouchless = &f
	default:
		return nil, apperrors.NewClassificationError(fmt.Sprintf("unexpected verdict %s", raw.Verdict), nil)
	}

	return v, nil
}

// SelectPhotos asks the AI service to choose hero, logo and gallery images by index
func (c *Classifier) SelectPhotos(ctx context.Context, images []string) (*PhotoSelection, error) {
	if len(images) == 0 {
		return &PhotoSelection{NoGoodPhotos: true}, nil
	}

	var sb strings.Builder
	for i, img := range images {
		fmt.Fprintf(&sb, "%d: %s\n", i, img)
	}

	reply, err := c.completer.Complete(ctx, fmt.Sprintf(photoInstructions, c.maxGallery), sb.String())
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("photos_failed").Inc()
		return nil, apperrors.NewClassificationError("photo selection call failed", err)
	}
	metrics.ClassifierCalls.WithLabelValues("photos").Inc()
	return ParsePhotoSelection(reply, len(images), c.maxGallery)
}

// ParsePhotoSelection decodes a photo selection reply and drops out-of-range indices
func ParsePhotoSelection(reply string, imageCount, maxGallery int) (*PhotoSelection, error) {
	obj, ok := ExtractJSONObject(reply)
	if !ok {
		return nil, apperrors.NewClassificationError("no JSON object in photo response", nil)
	}

	var sel PhotoSelection
	if err := json.Unmarshal([]byte(obj), &sel); err != nil {
		return nil, apperrors.NewClassificationError("malformed photo selection", err)
	}

	inRange := func(i *int) *int {
		if i == nil || *i < 0 || *i >= imageCount {
			return nil
		}
		return i
	}
	sel.HeroIndex = inRange(sel.HeroIndex)
	sel.LogoIndex = inRange(sel.LogoIndex)

	seen := make(map[int]bool)
	gallery := make([]int, 0, len(sel.GalleryIndices))
	for _, i := range sel.GalleryIndices {
		if i < 0 || i >= imageCount || seen[i] {
			continue
		}
		if sel.HeroIndex != nil && i == *sel.HeroIndex {
			continue
		}
		seen[i] = true
		gallery = append(gallery, i)
		if maxGallery > 0 && len(gallery) == maxGallery {
			break
		}
	}
	sel.GalleryIndices = gallery

	if sel.HeroIndex == nil && sel.LogoIndex == nil && len(gallery) == 0 {
		sel.NoGoodPhotos = true
	}
	return &sel, nil
}

func (c *Classifier) normalizeAmenities(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, a := range in {
		tag := strings.ToLower(strings.TrimSpace(a))
		tag = strings.NewReplacer(" ", "_", "-", "_").Replace(tag)
		if _, ok := c.amenities[tag]; !ok || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func truncateEvidence(s string) string {
	return Truncate(s, maxEvidenceChars)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
