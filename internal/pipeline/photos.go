package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/touchless-directory/internal/adapter"
	"github.com/touchless-directory/internal/classifier"
	"github.com/touchless-directory/internal/logging"
)

const maxGalleryPhotos = 8

// PhotoSet is the photo choice for one page
type PhotoSet struct {
	Hero    *string
	Logo    *string
	Gallery []string
	Found   int // candidate images on the page
}

// PhotoSelector chooses photos by index from a candidate list
type PhotoSelector interface {
	SelectPhotos(ctx context.Context, images []string) (*classifier.PhotoSelection, error)
}

// PhotoPicker turns a scraped page into a PhotoSet
type PhotoPicker struct {
	selector PhotoSelector // nil uses the positional fallback only
}

// NewPhotoPicker creates a photo picker
func NewPhotoPicker(selector PhotoSelector) *PhotoPicker {
	return &PhotoPicker{selector: selector}
}

// Pick collects candidates from the page and selects hero, logo and gallery images
func (p *PhotoPicker) Pick(ctx context.Context, page *adapter.ScrapedPage) *PhotoSet {
	candidates := imageCandidates(page)
	if len(candidates) == 0 {
		return &PhotoSet{}
	}

	if p.selector != nil {
		sel, err := p.selector.SelectPhotos(ctx, candidates)
		if err == nil {
			return fromSelection(candidates, sel)
		}
		logging.FromContext(ctx).WithError(err).Warn("AI photo selection failed, using fallback")
	}
	return fallbackPhotos(candidates)
}

func fromSelection(candidates []string, sel *classifier.PhotoSelection) *PhotoSet {
	set := &PhotoSet{Found: len(candidates)}
	if sel.NoGoodPhotos {
		return set
	}
	if sel.HeroIndex != nil {
		set.Hero = &candidates[*sel.HeroIndex]
	}
	if sel.LogoIndex != nil {
		set.Logo = &candidates[*sel.LogoIndex]
	}
	for _, i := range sel.GalleryIndices {
		set.Gallery = append(set.Gallery, candidates[i])
	}
	return set
}

// fallbackPhotos picks the first logo-named image as logo, the first other image as hero,
// and the rest as gallery
func fallbackPhotos(candidates []string) *PhotoSet {
	set := &PhotoSet{Found: len(candidates)}
	for i := range candidates {
		img := candidates[i]
		if set.Logo == nil && strings.Contains(strings.ToLower(img), "logo") {
			set.Logo = &img
			continue
		}
		if set.Hero == nil {
			set.Hero = &img
			continue
		}
		if len(set.Gallery) < maxGalleryPhotos {
			set.Gallery = append(set.Gallery, img)
		}
	}
	return set
}

// imageCandidates merges the provider's image list with og:image and logo images found in the HTML.
// og:image goes first since it is usually the site's chosen hero.
func imageCandidates(page *adapter.ScrapedPage) []string {
	base := page.Metadata.URL
	if base == "" {
		base = page.Metadata.SourceURL
	}

	var raw []string
	if page.HTML != "" {
		og, logos := htmlImages(page.HTML)
		if og != "" {
			raw = append(raw, og)
		}
		raw = append(raw, logos...)
	}
	raw = append(raw, page.Images...)

	seen := make(map[string]bool)
	var out []string
	for _, r := range raw {
		abs := resolveImageURL(base, r)
		if abs == "" || seen[abs] || !usableImage(abs) {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func htmlImages(html string) (og string, logos []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil
	}

	for _, sel := range []string{"meta[property='og:image']", "meta[name='og:image']", "meta[name='twitter:image']"} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			og = strings.TrimSpace(v)
			break
		}
	}

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		alt, _ := s.Attr("alt")
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		hint := strings.ToLower(src + " " + alt + " " + class + " " + id)
		if strings.Contains(hint, "logo") {
			logos = append(logos, src)
		}
	})
	return og, logos
}

func resolveImageURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return ""
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func usableImage(u string) bool {
	lower := strings.ToLower(u)
	for _, bad := range []string{"favicon", "sprite", "pixel.gif", "spacer", "facebook.com/tr", "/icons/"} {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}
