// Package scraper fetches asking prices from listing pages.
package scraper

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"autowatch/core/types"
	apperrors "autowatch/internal/errors"
)

// DefaultSelector matches the price element on common listing sites
const DefaultSelector = `[itemprop="price"], [data-testid="advert-price"], .price`

// Config configures the scraper
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Selector is a CSS selector for the element holding the price
	Selector string
	// Currency is assumed when the page does not state one
	Currency types.Currency
}

// Scraper reads listing prices over HTTP
type Scraper struct {
	client *resty.Client
	config Config
}

// New creates a scraper
func New(cfg Config) *Scraper {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if cfg.Currency == "" {
		cfg.Currency = types.CurrencyGBP
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("user-agent", cfg.UserAgent)
	}
	return &Scraper{client: client, config: cfg}
}

// Price fetches listingURL and extracts its asking price
func (s *Scraper) Price(ctx context.Context, listingURL string) (types.Money, error) {
	res, err := s.client.R().
		SetContext(ctx).
		Get(listingURL)
	if err != nil {
		return types.Money{}, apperrors.Network("failed to fetch listing", err)
	}
	if res.IsError() {
		if res.StatusCode() == 404 || res.StatusCode() == 410 {
			return types.Money{}, apperrors.NotFound("listing", listingURL)
		}
		return types.Money{}, apperrors.Network("listing returned "+res.Status(), nil)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return types.Money{}, apperrors.Parsing("invalid listing html", err)
	}
	return Extract(doc, s.config.Selector, s.config.Currency)
}

// Extract finds the price in a parsed page. Structured metadata wins over
// the visible price text.
func Extract(doc *goquery.Document, selector string, fallback types.Currency) (types.Money, error) {
	currency := fallback
	if c, ok := doc.Find(`meta[itemprop="priceCurrency"], meta[property="product:price:currency"]`).Attr("content"); ok {
		if parsed, ok := parseCurrency(c); ok {
			currency = parsed
		}
	}

	if amount, ok := doc.Find(`meta[property="product:price:amount"]`).Attr("content"); ok {
		return ParsePrice(amount, currency)
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return types.Money{}, apperrors.Newf(apperrors.TypeParsing, "no element matches %q", selector)
	}
	if content, ok := sel.Attr("content"); ok && content != "" {
		return ParsePrice(content, currency)
	}
	return ParsePrice(sel.Text(), currency)
}

var numberPattern = regexp.MustCompile(`\d{1,3}(?:[, \x{00A0}]\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

// ParsePrice reads a price such as "£12,995", "12995.00" or "EUR 8 500".
// A currency symbol or code in the text overrides fallback.
func ParsePrice(text string, fallback types.Currency) (types.Money, error) {
	currency := fallback
	for _, c := range []types.Currency{types.CurrencyGBP, types.CurrencyEUR, types.CurrencyUSD} {
		if strings.Contains(text, c.Symbol()) || strings.Contains(strings.ToUpper(text), string(c)) {
			currency = c
			break
		}
	}

	match := numberPattern.FindString(text)
	if match == "" {
		return types.Money{}, apperrors.Newf(apperrors.TypeParsing, "no price in %q", strings.TrimSpace(text))
	}
	clean := strings.Map(func(r rune) rune {
		if r == ',' || r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, match)

	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return types.Money{}, apperrors.Parsing("invalid price "+clean, err)
	}
	if amount.IsNegative() {
		return types.Money{}, apperrors.Newf(apperrors.TypeParsing, "negative price %s", amount)
	}
	return types.NewMoney(amount, currency), nil
}

func parseCurrency(s string) (types.Currency, bool) {
	switch c := types.Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case types.CurrencyGBP, types.CurrencyEUR, types.CurrencyUSD:
		return c, true
	}
	return "", false
}
