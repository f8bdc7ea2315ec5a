package raster

import (
	"errors"
	"fmt"
)

// ErrUnsupportedDType is returned by codecs that cannot represent a dtype.
var ErrUnsupportedDType = errors.New("unsupported raster dtype")

// ShapeMismatchError reports rasters that could not be reconciled onto the
// same grid.
type ShapeMismatchError struct {
	Want   [2]int // width, height
	Got    [2]int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("raster shape %dx%d does not match %dx%d", e.Got[0], e.Got[1], e.Want[0], e.Want[1])
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
