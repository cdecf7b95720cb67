package demand

import (
	"errors"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalidDemand = errors.New("invalid demand")

// Route values meaning "not given, pick automatically".
var nullTokens = []string{"", "_", "n", "null", "false", "0"}

func isNull(value string) bool {
	return slices.Contains(nullTokens, strings.ToLower(strings.TrimSpace(value)))
}

func parseDimension(value string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ExistingImage is a request for a variant of a stored image, sized by raw route values.
type ExistingImage struct {
	width  string
	height string
}

func NewExistingImage(width, height string) ExistingImage {
	return ExistingImage{width: width, height: height}
}

// Width returns the requested width, false when the value is a null token.
func (d ExistingImage) Width() (int, bool) {
	if isNull(d.width) {
		return 0, false
	}
	return parseDimension(d.width)
}

func (d ExistingImage) Height() (int, bool) {
	if isNull(d.height) {
		return 0, false
	}
	return parseDimension(d.height)
}

// IsValid reports whether each dimension is either a null token or a positive integer.
func (d ExistingImage) IsValid() bool {
	return validDimension(d.width) && validDimension(d.height)
}

// HasBothDimensions reports whether width and height are both concrete.
func (d ExistingImage) HasBothDimensions() bool {
	_, hasWidth := d.Width()
	_, hasHeight := d.Height()
	return hasWidth && hasHeight
}

func validDimension(value string) bool {
	if isNull(value) {
		return true
	}
	_, ok := parseDimension(value)
	return ok
}
