package vehicle

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	apperrors "autowatch/internal/errors"
)

// Keys used in the packed listing string. Aliases on the right are accepted
// when decoding and never produced.
const (
	keyMake     = "make"
	keyModel    = "model"
	keyTrim     = "trim"
	keyColor    = "color"
	keyReg      = "reg"
	keyYear     = "year"
	keyMileage  = "mileage"
	keyEngine   = "engine"
	aliasColour = "colour"
	aliasEngine = "engine_size"
)

const minYear = 1886

// ParsePacked splits a packed listing string of the form
// "<listing-url>?mileage=..&year=..&color=.." into the listing URL and the
// vehicle record. Query parameters that are not vehicle attributes stay on
// the listing URL.
func ParsePacked(packed string) (string, Vehicle, error) {
	u, err := url.Parse(strings.TrimSpace(packed))
	if err != nil {
		return "", Vehicle{}, apperrors.Parsing("invalid packed listing", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", Vehicle{}, apperrors.InvalidArgument("listing url must be http(s), got %q", u.Scheme)
	}

	q := u.Query()
	var v Vehicle

	v.Make = take(q, keyMake)
	v.Model = take(q, keyModel)
	v.Trim = take(q, keyTrim)
	v.Color = take(q, keyColor, aliasColour)
	v.Registration = NormalizeRegistration(take(q, keyReg))

	if s := take(q, keyYear); s != "" {
		year, err := parseYear(s)
		if err != nil {
			return "", Vehicle{}, err
		}
		v.Year = &year
	}
	if s := take(q, keyMileage); s != "" {
		miles, err := parseMileage(s)
		if err != nil {
			return "", Vehicle{}, err
		}
		v.Mileage = &miles
	}
	if s := take(q, keyEngine, aliasEngine); s != "" {
		size, err := parseEngine(s)
		if err != nil {
			return "", Vehicle{}, err
		}
		v.EngineSize = &size
	}

	u.RawQuery = q.Encode()
	return u.String(), v, nil
}

// Pack is the inverse of ParsePacked
func (v Vehicle) Pack(listingURL string) (string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", apperrors.Parsing("invalid listing url", err)
	}

	q := u.Query()
	put := func(key, val string) {
		if val != "" {
			q.Set(key, val)
		}
	}
	put(keyMake, v.Make)
	put(keyModel, v.Model)
	put(keyTrim, v.Trim)
	put(keyColor, v.Color)
	put(keyReg, v.Registration)
	if v.Year != nil {
		put(keyYear, strconv.Itoa(*v.Year))
	}
	if v.Mileage != nil {
		put(keyMileage, strconv.Itoa(*v.Mileage))
	}
	if v.EngineSize != nil {
		put(keyEngine, v.EngineSize.String())
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Marshal encodes the record for storage columns and HTTP bodies
func Marshal(v Vehicle) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a record; empty input yields the zero record
func Unmarshal(data []byte) (Vehicle, error) {
	var v Vehicle
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return Vehicle{}, apperrors.Parsing("invalid vehicle record", err)
	}
	return v, v.Validate()
}

// Validate checks ranges of the numeric attributes
func (v Vehicle) Validate() error {
	if v.Year != nil {
		if _, err := parseYear(strconv.Itoa(*v.Year)); err != nil {
			return err
		}
	}
	if v.Mileage != nil && *v.Mileage < 0 {
		return apperrors.InvalidArgument("mileage must not be negative, got %d", *v.Mileage)
	}
	if v.EngineSize != nil && !v.EngineSize.IsPositive() {
		return apperrors.InvalidArgument("engine size must be positive, got %s", v.EngineSize)
	}
	return nil
}

// NormalizeRegistration uppercases a plate and strips spaces
func NormalizeRegistration(reg string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(reg), " ", ""))
}

func take(q url.Values, keys ...string) string {
	var val string
	for _, k := range keys {
		if s := strings.TrimSpace(q.Get(k)); s != "" && val == "" {
			val = s
		}
		q.Del(k)
	}
	return val
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.InvalidArgument("year %q is not a number", s)
	}
	if max := time.Now().Year() + 1; year < minYear || year > max {
		return 0, apperrors.InvalidArgument("year %d is outside %d-%d", year, minYear, max)
	}
	return year, nil
}

// parseMileage accepts "45000", "45,000" and "45,000 miles"
func parseMileage(s string) (int, error) {
	clean := strings.TrimSuffix(strings.ToLower(s), "miles")
	clean = strings.NewReplacer(",", "", " ", "").Replace(clean)
	miles, err := strconv.Atoi(clean)
	if err != nil || miles < 0 {
		return 0, apperrors.InvalidArgument("mileage %q is not a non-negative whole number", s)
	}
	return miles, nil
}

// parseEngine accepts litres ("1.6", "1.6L") or cubic centimetres ("1598cc")
func parseEngine(s string) (decimal.Decimal, error) {
	clean := strings.ToLower(strings.TrimSpace(s))
	cc := strings.HasSuffix(clean, "cc")
	clean = strings.TrimSuffix(strings.TrimSuffix(clean, "cc"), "l")

	d, err := decimal.NewFromString(strings.TrimSpace(clean))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, apperrors.InvalidArgument("engine size %q is not a positive number", s)
	}
	if cc {
		d = d.Div(decimal.NewFromInt(1000)).Round(1)
	}
	return d, nil
}
