package demand

import "slices"

const (
	RouteTypeThumbnail = "thumb"

	MethodCrop = "crop"
	MethodFit  = "fit"
)

var thumbnailMethods = []string{MethodCrop, MethodFit}

// Thumbnail asks for a crop or fit of a stored image. Only the method is checked by IsValid;
// the embedded ExistingImage validates the dimensions.
type Thumbnail struct {
	ExistingImage
	method string
}

func NewThumbnail(method, width, height string) Thumbnail {
	return Thumbnail{
		ExistingImage: NewExistingImage(width, height),
		method:        method,
	}
}

func (t Thumbnail) Method() string {
	return t.method
}

// IsValid is true only for the exact method names "crop" and "fit".
func (t Thumbnail) IsValid() bool {
	return slices.Contains(thumbnailMethods, t.method)
}
