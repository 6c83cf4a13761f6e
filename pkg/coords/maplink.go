package coords

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/NERVsystems/osmscene/pkg/core"
)

// OSMWebBase is the slippy-map page opened to preview an import area.
const OSMWebBase = "https://www.openstreetmap.org/#map=16/"

// Separator patterns keyed by the host fragment that selects them.
// Order matters: the first fragment found in the link wins.
var serviceSeparators = []struct {
	host string
	sep  string
}{
	{"openstreetmap.org", "/"},
	{"google.com", "@|,"},
	{"bing.com", "=|~|&"},
	{"wego.here.com", "=|,"},
}

// DetectSeparator guesses the regular expression that splits link into
// tokens such that latitude and longitude appear as two consecutive ones.
// Unknown links fall back to the first of ",", ":" or "/" they contain.
// An empty result means no separator was found.
func DetectSeparator(link string) string {
	for _, s := range serviceSeparators {
		if strings.Contains(link, s.host) {
			return s.sep
		}
	}
	for _, sep := range []string{",", ":", "/"} {
		if strings.Contains(link, sep) {
			return sep
		}
	}
	return ""
}

// ParseMapLink splits link on the regular expression sep and returns the
// first two consecutive decimal tokens as latitude and longitude strings.
// Integer tokens (zoom levels and the like) neither count nor break a
// sequence; any other token does. An empty sep is detected from the link.
func ParseMapLink(link, sep string) (lat, lon string, err error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", "", core.NewError(core.ErrInvalidInput, "empty map link")
	}
	if sep == "" {
		sep = DetectSeparator(link)
	}
	if sep == "" {
		return "", "", core.NewError(core.ErrInvalidInput, fmt.Sprintf("no separator found in map link %q", link)).
			WithGuidance("paste a full map URL or give the separator explicitly")
	}
	re, err := regexp.Compile(sep)
	if err != nil {
		return "", "", core.Wrap(core.ErrInvalidInput, fmt.Sprintf("invalid separator %q", sep), err)
	}

	var pending string
	for _, tok := range re.Split(link, -1) {
		v, perr := strconv.ParseFloat(tok, 64)
		if perr != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			pending = ""
			continue
		}
		if !strings.Contains(tok, ".") {
			continue
		}
		if pending == "" {
			pending = tok
			continue
		}
		return pending, tok, nil
	}
	return "", "", core.NewError(core.ErrInvalidInput, fmt.Sprintf("no coordinate pair in map link %q", link)).
		WithGuidance("the link must contain latitude and longitude as decimal numbers")
}

// LocationFromLink parses a map link with a detected separator and
// validates the resulting coordinates.
func LocationFromLink(link string) (*ParseResult, error) {
	latStr, lonStr, err := ParseMapLink(link, "")
	if err != nil {
		return nil, err
	}
	lat, _ := strconv.ParseFloat(latStr, 64)
	lon, _ := strconv.ParseFloat(lonStr, 64)
	return result(lat, lon, FormatMapLink, link)
}

// IsMapLink reports whether s should be read as a map link rather than a
// coordinate notation.
func IsMapLink(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Contains(s, "://") || strings.HasPrefix(s, "www.") || strings.Contains(s, "#map=")
}

// Resolve accepts a location in any supported notation or a map link.
// Input matching a coordinate notation is never read as a link.
func Resolve(input string) (*ParseResult, error) {
	if DetectFormat(input) == FormatUnknown && IsMapLink(input) {
		return LocationFromLink(input)
	}
	return Parse(input)
}

// Swap exchanges latitude and longitude, for links that list the longitude
// first.
func Swap(lat, lon string) (string, string) {
	return lon, lat
}

// OSMWebURL returns the openstreetmap.org page centred on lat, lon.
func OSMWebURL(lat, lon float64) string {
	return OSMWebBase + strconv.FormatFloat(lat, 'f', -1, 64) + "/" + strconv.FormatFloat(lon, 'f', -1, 64)
}

// SliderLengthKm converts the length slider position (tenths of a
// kilometre) to kilometres.
func SliderLengthKm(v int) float64 {
	return float64(v) / 10
}
