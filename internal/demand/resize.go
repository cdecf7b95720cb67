package demand

const RouteTypeResize = "resize"

// Resize asks for a stored image scaled to the requested dimensions. Aspect ratio is kept
// unless disabled and enlarging is off unless enabled.
type Resize struct {
	ExistingImage
	aspect bool
	upsize bool
}

func NewResize(width, height string) Resize {
	return Resize{
		ExistingImage: NewExistingImage(width, height),
		aspect:        true,
	}
}

// WithAspect applies an explicit aspect route value; a null token turns it off.
func (r Resize) WithAspect(value string) Resize {
	r.aspect = !isNull(value)
	return r
}

// WithUpsize applies an explicit upsize route value; a null token leaves it off.
func (r Resize) WithUpsize(value string) Resize {
	r.upsize = !isNull(value)
	return r
}

func (r Resize) MaintainAspectRatio() bool {
	return r.aspect
}

func (r Resize) AllowUpsizing() bool {
	return r.upsize
}

// IsValid needs valid dimensions and at least one of them concrete.
func (r Resize) IsValid() bool {
	if !r.ExistingImage.IsValid() {
		return false
	}
	_, hasWidth := r.Width()
	_, hasHeight := r.Height()
	return hasWidth || hasHeight
}
