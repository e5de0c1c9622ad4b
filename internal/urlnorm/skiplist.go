package urlnorm

import "strings"

// skipDomains are directory, social and map sites that never yield classifiable content.
// Subdomains match too (m.facebook.com, maps.google.com).
var skipDomains = []string{
	"facebook.com",
	"fb.com",
	"fb.me",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"linkedin.com",
	"youtube.com",
	"pinterest.com",
	"nextdoor.com",
	"linktr.ee",
	"google.com",
	"goo.gl",
	"g.page",
	"maps.apple.com",
	"bing.com",
	"mapquest.com",
	"yelp.com",
	"yellowpages.com",
	"tripadvisor.com",
	"foursquare.com",
	"bbb.org",
	"groupon.com",
	"manta.com",
	"superpages.com",
	"waze.com",
}

// IsSkipListed reports whether the URL's host is a denylisted directory/social/map domain
func IsSkipListed(raw string) bool {
	host := Host(raw)
	if host == "" {
		return false
	}
	for _, domain := range skipDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
