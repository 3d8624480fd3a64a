package scraper

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// TitlePlaceholder is substituted when a listing page has no parseable
// title. A missing title never fails an extraction.
const TitlePlaceholder = "Unknown product"

// ErrPriceNotFound is returned when no extraction strategy yields a
// positive price. Callers treat it as "retry later", not a hard error:
// marketplaces ship markup variants and throttled pages constantly.
var ErrPriceNotFound = errors.New("no price found in page content")

// Snapshot is the structured data extracted from one fetch of a listing.
// It is ephemeral: consumed to update the product record and append a
// history point, never persisted as-is.
type Snapshot struct {
	Title         string
	Price         float64
	OriginalPrice *float64
	Currency      string
	ImageURL      string
}

var (
	titleRe = regexp.MustCompile(`<span id="productTitle"[^>]*>([^<]+)</span>`)

	priceWholeRe     = regexp.MustCompile(`<span class="a-price-whole">([^<]+)</span>`)
	priceFractionRe  = regexp.MustCompile(`<span class="a-price-fraction">([^<]+)</span>`)
	priceOffscreenRe = regexp.MustCompile(`<span class="a-offscreen">\$([0-9,]+\.?[0-9]*)</span>`)
	priceToPayRe     = regexp.MustCompile(`<span class="priceToPay[^>]*>\$([0-9,]+\.[0-9]{2})</span>`)
	priceLegacyRe    = regexp.MustCompile(`priceblock_ourprice[^>]*>\$([0-9,]+\.[0-9]{2})<`)

	originalPriceRes = []*regexp.Regexp{
		regexp.MustCompile(`<span class="a-price a-text-price"[^>]*>\s*<span class="a-offscreen">\$([0-9,.]+)</span>`),
		regexp.MustCompile(`<span class="a-text-strike"[^>]*>\$([0-9,.]+)</span>`),
	}

	imageHiResRe   = regexp.MustCompile(`"hiRes":"([^"]+)"`)
	imageLargeRe   = regexp.MustCompile(`"large":"([^"]+)"`)
	imageLandingRe = regexp.MustCompile(`<img[^>]+id="landingImage"[^>]+src="([^"]+)"`)
)

// priceStrategies is the ordered fallback chain for locating a price.
// The first strategy that yields a parseable, strictly positive number
// wins; later entries are fallbacks only, never merged.
var priceStrategies = []struct {
	name    string
	extract func(html string) (float64, bool)
}{
	{"whole-fraction", priceFromWholeFraction},
	{"offscreen", priceFromOffscreen},
	{"sale", priceFromSalePrice},
	{"legacy", priceFromLegacyBlock},
}

// Extract parses raw listing page content into a Snapshot.
//
// A missing title or image is non-fatal (the image requirement for
// onboarding brand-new products is enforced by the ingest service, not
// here). A missing price returns ErrPriceNotFound.
func Extract(html string) (Snapshot, error) {
	snap := Snapshot{
		Title:    TitlePlaceholder,
		Currency: "USD",
	}

	price, ok := extractPrice(html)
	if !ok {
		return Snapshot{}, ErrPriceNotFound
	}
	snap.Price = price

	if m := titleRe.FindStringSubmatch(html); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			snap.Title = title
		}
	}

	// Only look for a strike-through price once the current price is
	// known: anything not strictly greater is a mis-parse (coupon or
	// per-unit price), so it is dropped.
	if original, ok := extractOriginalPrice(html); ok && original > price {
		snap.OriginalPrice = &original
	}

	snap.ImageURL = extractImage(html)

	return snap, nil
}

func extractPrice(html string) (float64, bool) {
	for _, s := range priceStrategies {
		if price, ok := s.extract(html); ok {
			return price, true
		}
	}
	return 0, false
}

// priceFromWholeFraction joins the split whole/fraction markup, the
// primary presentation on current listing pages.
func priceFromWholeFraction(html string) (float64, bool) {
	m := priceWholeRe.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}

	whole := strings.NewReplacer(",", "", ".", "").Replace(strings.TrimSpace(m[1]))
	fraction := "00"
	if fm := priceFractionRe.FindStringSubmatch(html); fm != nil {
		fraction = strings.NewReplacer(",", "", ".", "").Replace(strings.TrimSpace(fm[1]))
	}

	return parsePrice(whole + "." + fraction)
}

// priceFromOffscreen reads the accessibility price span.
func priceFromOffscreen(html string) (float64, bool) {
	m := priceOffscreenRe.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}
	return parsePrice(m[1])
}

// priceFromSalePrice reads the deal/sale price span.
func priceFromSalePrice(html string) (float64, bool) {
	m := priceToPayRe.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}
	return parsePrice(m[1])
}

// priceFromLegacyBlock reads the retired priceblock markup still served
// for some catalog categories.
func priceFromLegacyBlock(html string) (float64, bool) {
	m := priceLegacyRe.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}
	return parsePrice(m[1])
}

func extractOriginalPrice(html string) (float64, bool) {
	for _, re := range originalPriceRes {
		if m := re.FindStringSubmatch(html); m != nil {
			if price, ok := parsePrice(m[1]); ok {
				return price, true
			}
		}
	}
	return 0, false
}

// extractImage tries the high-resolution source first, then the generic
// large-image source, then the rendered image tag. Empty means none of
// the three matched.
func extractImage(html string) string {
	for _, re := range []*regexp.Regexp{imageHiResRe, imageLargeRe, imageLandingRe} {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// parsePrice converts a scraped price string to a strictly positive
// float. Thousands separators are tolerated.
func parsePrice(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	price, err := strconv.ParseFloat(s, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
