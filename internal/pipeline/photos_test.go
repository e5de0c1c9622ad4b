package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchless-directory/internal/adapter"
	"github.com/touchless-directory/internal/classifier"
)

type fakeSelector struct {
	sel   *classifier.PhotoSelection
	err   error
	input []string
}

func (f *fakeSelector) SelectPhotos(ctx context.Context, images []string) (*classifier.PhotoSelection, error) {
	f.input = images
	return f.sel, f.err
}

func intPtr(i int) *int { return &i }

const washHTML = `<html><head>
<meta property="og:image" content="/images/storefront.jpg">
</head><body>
<img src="/images/site-logo.svg" alt="Sparkle Wash">
<img src="/images/bay.jpg">
<img src="data:image/gif;base64,R0lGOD">
</body></html>`

func TestImageCandidates_HTMLAndProviderImages(t *testing.T) {
	page := &adapter.ScrapedPage{
		HTML: washHTML,
		Images: []string{
			"https://sparkle.example.com/images/bay.jpg",
			"https://sparkle.example.com/favicon.ico",
			"ftp://sparkle.example.com/x.jpg",
			"https://sparkle.example.com/images/storefront.jpg",
		},
		Metadata: adapter.PageMetadata{SourceURL: "http://sparkle.example.com", URL: "https://sparkle.example.com/home"},
	}

	got := imageCandidates(page)
	assert.Equal(t, []string{
		"https://sparkle.example.com/images/storefront.jpg",
		"https://sparkle.example.com/images/site-logo.svg",
		"https://sparkle.example.com/images/bay.jpg",
	}, got)
}

func TestFallbackPhotos(t *testing.T) {
	set := fallbackPhotos([]string{
		"https://a.com/hero.jpg",
		"https://a.com/LOGO.png",
		"https://a.com/1.jpg",
		"https://a.com/2.jpg",
	})
	assert.Equal(t, 4, set.Found)
	assert.Equal(t, "https://a.com/hero.jpg", *set.Hero)
	assert.Equal(t, "https://a.com/LOGO.png", *set.Logo)
	assert.Equal(t, []string{"https://a.com/1.jpg", "https://a.com/2.jpg"}, set.Gallery)
}

func TestFallbackPhotos_CapsGallery(t *testing.T) {
	var imgs []string
	for i := 0; i < 20; i++ {
		imgs = append(imgs, "https://a.com/"+string(rune('a'+i))+".jpg")
	}
	set := fallbackPhotos(imgs)
	assert.Len(t, set.Gallery, maxGalleryPhotos)
}

func TestPhotoPicker_UsesSelector(t *testing.T) {
	selector := &fakeSelector{sel: &classifier.PhotoSelection{
		HeroIndex:      intPtr(2),
		LogoIndex:      intPtr(1),
		GalleryIndices: []int{0},
	}}
	picker := NewPhotoPicker(selector)

	set := picker.Pick(context.Background(), &adapter.ScrapedPage{
		HTML:     washHTML,
		Images:   []string{"/images/bay.jpg"},
		Metadata: adapter.PageMetadata{SourceURL: "https://sparkle.example.com"},
	})

	require.Len(t, selector.input, 3)
	assert.Equal(t, "https://sparkle.example.com/images/bay.jpg", *set.Hero)
	assert.Equal(t, "https://sparkle.example.com/images/site-logo.svg", *set.Logo)
	assert.Equal(t, []string{"https://sparkle.example.com/images/storefront.jpg"}, set.Gallery)
}

func TestPhotoPicker_NoGoodPhotos(t *testing.T) {
	picker := NewPhotoPicker(&fakeSelector{sel: &classifier.PhotoSelection{NoGoodPhotos: true}})
	set := picker.Pick(context.Background(), &adapter.ScrapedPage{
		Images:   []string{"https://a.com/x.jpg"},
		Metadata: adapter.PageMetadata{SourceURL: "https://a.com"},
	})
	assert.Nil(t, set.Hero)
	assert.Equal(t, 1, set.Found)
}

func TestPhotoPicker_FallsBackWhenSelectorFails(t *testing.T) {
	picker := NewPhotoPicker(&fakeSelector{err: errors.New("model unavailable")})
	set := picker.Pick(context.Background(), &adapter.ScrapedPage{
		Images:   []string{"https://a.com/x.jpg", "https://a.com/y.jpg"},
		Metadata: adapter.PageMetadata{SourceURL: "https://a.com"},
	})
	assert.Equal(t, "https://a.com/x.jpg", *set.Hero)
	assert.Equal(t, []string{"https://a.com/y.jpg"}, set.Gallery)
}

func TestPhotoPicker_NoCandidates(t *testing.T) {
	selector := &fakeSelector{}
	set := NewPhotoPicker(selector).Pick(context.Background(), &adapter.ScrapedPage{})
	assert.Equal(t, 0, set.Found)
	assert.Nil(t, selector.input)
}
