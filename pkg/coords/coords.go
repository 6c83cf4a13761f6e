// Package coords turns the free-text inputs of an import request into
// WGS84 decimal degrees.
//
// Coordinates may be typed as decimal degrees ("30.8611, 75.8610"),
// degrees/minutes/seconds ("30°51'40"N 75°51'40"E"), MGRS
// ("43RFQ0000013000") or UTM ("43R 581400 3414800"). Map-service links
// are handled by ParseMapLink in maplink.go.
package coords

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/NERVsystems/osmscene/pkg/core"
	"github.com/NERVsystems/osmscene/pkg/geo"
	"github.com/akhenakh/mgrs"
)

// Format identifies the notation an input was written in.
type Format int

const (
	FormatUnknown Format = iota
	FormatDecimal
	FormatDMS
	FormatMGRS
	FormatUTM
	FormatMapLink
)

func (f Format) String() string {
	switch f {
	case FormatDecimal:
		return "decimal"
	case FormatDMS:
		return "dms"
	case FormatMGRS:
		return "mgrs"
	case FormatUTM:
		return "utm"
	case FormatMapLink:
		return "maplink"
	default:
		return "unknown"
	}
}

// ParseResult is a parsed location together with the detected notation.
type ParseResult struct {
	Location geo.Location
	Format   Format
	Original string
}

var (
	// zone, latitude band (no I/O), 100 km square, even-length numeric part
	mgrsRegex = regexp.MustCompile(`(?i)^(\d{1,2})([C-HJ-NP-X])([A-HJ-NP-Z]{2})(\d{2,10})$`)

	utmRegex = regexp.MustCompile(`(?i)^(\d{1,2})([C-HJ-NP-X])\s+(\d+(?:\.\d+)?)\s+(\d+(?:\.\d+)?)$`)

	dmsRegex = regexp.MustCompile(`(?i)^(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([NS])[\s,]+(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([EW])$`)

	decimalRegex = regexp.MustCompile(`^([-+]?\d+(?:\.\d*)?)\s*[,;\s]\s*([-+]?\d+(?:\.\d*)?)$`)
)

type parser struct {
	format Format
	match  *regexp.Regexp
	parse  func(string) (*ParseResult, error)
}

// Most specific notation first; decimal would otherwise swallow UTM.
var parsers = []parser{
	{FormatMGRS, mgrsRegex, ParseMGRS},
	{FormatUTM, utmRegex, ParseUTM},
	{FormatDMS, dmsRegex, ParseDMS},
	{FormatDecimal, decimalRegex, ParseDecimal},
}

func invalid(format string, args ...any) error {
	return core.NewError(core.ErrInvalidInput, fmt.Sprintf(format, args...)).
		WithGuidance("use decimal degrees such as \"30.8611, 75.8610\", DMS, MGRS or UTM")
}

// Parse detects the notation of input and converts it to decimal degrees.
func Parse(input string) (*ParseResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, invalid("empty coordinate string")
	}
	for _, p := range parsers {
		if !p.match.MatchString(input) {
			continue
		}
		return p.parse(input)
	}
	return nil, invalid("unrecognized coordinate format: %q", input)
}

// DetectFormat reports the notation of input without converting it.
func DetectFormat(input string) Format {
	input = strings.TrimSpace(input)
	for _, p := range parsers {
		if p.match.MatchString(input) {
			return p.format
		}
	}
	return FormatUnknown
}

func result(lat, lon float64, format Format, original string) (*ParseResult, error) {
	if err := core.ValidateCoords(lat, lon); err != nil {
		return nil, fmt.Errorf("%s %q: %w", format, original, err)
	}
	return &ParseResult{
		Location: geo.Location{Latitude: lat, Longitude: lon},
		Format:   format,
		Original: original,
	}, nil
}

// ParseMGRS converts an MGRS reference of 1 m to 10 km precision.
func ParseMGRS(input string) (*ParseResult, error) {
	input = strings.ToUpper(strings.TrimSpace(input))
	m := mgrsRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, invalid("invalid MGRS reference: %q", input)
	}
	if zone, _ := strconv.Atoi(m[1]); zone < 1 || zone > 60 {
		return nil, invalid("invalid MGRS zone: %s", m[1])
	}
	if len(m[4])%2 != 0 {
		return nil, invalid("MGRS numeric part must have an even number of digits: %q", input)
	}

	lat, lon, err := mgrs.MGRSToLatLng(input)
	if err != nil {
		return nil, core.Wrap(core.ErrInvalidInput, "MGRS conversion failed", err)
	}
	return result(lat, lon, FormatMGRS, input)
}

// ToMGRS formats a location as MGRS. Precision 1..5 selects 10 km down to
// 1 m; anything else means 1 m.
func ToMGRS(lat, lon float64, precision int) (string, error) {
	if precision < 1 || precision > 5 {
		precision = 5
	}
	if err := core.ValidateCoords(lat, lon); err != nil {
		return "", err
	}
	s, err := mgrs.LatLngToMGRS(lat, lon, precision)
	if err != nil {
		return "", core.Wrap(core.ErrInvalidInput, "MGRS conversion failed", err)
	}
	return s, nil
}

// ParseUTM converts "<zone><band> <easting> <northing>". Bands C..M are
// south of the equator.
func ParseUTM(input string) (*ParseResult, error) {
	input = strings.ToUpper(strings.TrimSpace(input))
	m := utmRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, invalid("invalid UTM coordinate: %q", input)
	}
	zone, _ := strconv.Atoi(m[1])
	if zone < 1 || zone > 60 {
		return nil, invalid("invalid UTM zone: %s", m[1])
	}
	easting, _ := strconv.ParseFloat(m[3], 64)
	northing, _ := strconv.ParseFloat(m[4], 64)

	lat, lon := utmToLatLon(zone, easting, northing, m[2][0] >= 'N')
	return result(lat, lon, FormatUTM, input)
}

// ParseDMS converts degrees, minutes and seconds with hemisphere letters.
func ParseDMS(input string) (*ParseResult, error) {
	input = strings.TrimSpace(input)
	m := dmsRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, invalid("invalid DMS coordinate: %q", input)
	}

	lat, err := dmsValue(m[1], m[2], m[3], 90)
	if err != nil {
		return nil, err
	}
	lon, err := dmsValue(m[5], m[6], m[7], 180)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(m[4], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[8], "W") {
		lon = -lon
	}
	return result(lat, lon, FormatDMS, input)
}

func dmsValue(deg, minutes, sec string, maxDeg float64) (float64, error) {
	d, _ := strconv.ParseFloat(deg, 64)
	mi, _ := strconv.ParseFloat(minutes, 64)
	s, _ := strconv.ParseFloat(sec, 64)
	if d > maxDeg || mi >= 60 || s >= 60 {
		return 0, invalid("DMS component out of range: %s %s %s", deg, minutes, sec)
	}
	return d + mi/60 + s/3600, nil
}

// ParseDecimal converts "lat, lon", "lat; lon" or "lat lon".
func ParseDecimal(input string) (*ParseResult, error) {
	input = strings.TrimSpace(input)
	m := decimalRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, invalid("invalid decimal coordinate: %q", input)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, invalid("invalid latitude: %s", m[1])
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, invalid("invalid longitude: %s", m[2])
	}
	return result(lat, lon, FormatDecimal, input)
}

// utmToLatLon inverts the WGS84 transverse Mercator used by UTM
// (Snyder's series, accurate to well under a metre inside a zone).
func utmToLatLon(zone int, easting, northing float64, north bool) (lat, lon float64) {
	const (
		a  = 6378137.0
		f  = 1 / 298.257223563
		k0 = 0.9996
	)
	e2 := f * (2 - f)
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := easting - 500000
	y := northing
	if !north {
		y -= 10000000
	}
	lon0 := float64((zone-1)*6-180+3) * math.Pi / 180

	mu := y / k0 / (a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin1, cos1, tan1 := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := a / math.Sqrt(1-e2*sin1*sin1)
	t1 := tan1 * tan1
	c1 := ep2 * cos1 * cos1
	r1 := a * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
	d := x / (n1 * k0)

	lat = phi1 - (n1*tan1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lon = lon0 + (d-
		(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cos1

	return lat * 180 / math.Pi, lon * 180 / math.Pi
}
