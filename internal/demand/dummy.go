package demand

import (
	"encoding/hex"
	"image/color"
	"strings"
)

const (
	RouteTypeDummy = "dummy"

	DefaultDummyColor = "eefefe"
)

// Dummy asks for a solid colour placeholder of a fixed size.
type Dummy struct {
	width  string
	height string
	color  string
}

func NewDummy(width, height, color string) Dummy {
	return Dummy{width: width, height: height, color: color}
}

func (d Dummy) Width() int {
	n, _ := parseDimension(d.width)
	return n
}

func (d Dummy) Height() int {
	n, _ := parseDimension(d.height)
	return n
}

// Color parses the hex colour, accepting 3 or 6 digits with an optional leading '#'.
func (d Dummy) Color() (color.NRGBA, bool) {
	raw := strings.TrimPrefix(strings.TrimSpace(d.color), "#")
	if isNull(raw) {
		raw = DefaultDummyColor
	}
	if len(raw) == 3 {
		raw = string([]byte{raw[0], raw[0], raw[1], raw[1], raw[2], raw[2]})
	}
	if len(raw) != 6 {
		return color.NRGBA{}, false
	}

	rgb, err := hex.DecodeString(raw)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}, true
}

func (d Dummy) IsValid() bool {
	_, widthOK := parseDimension(d.width)
	_, heightOK := parseDimension(d.height)
	_, colorOK := d.Color()
	return widthOK && heightOK && colorOK
}
