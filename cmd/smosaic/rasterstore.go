//go:build !gdal

package main

import (
	"fmt"

	"github.com/go-git/go-billy/v5"

	"github.com/lox/smosaic/internal/raster"
)

func newRasterStore(kind string, fs billy.Filesystem) (raster.Store, error) {
	if kind == "gdal" {
		return nil, fmt.Errorf("raster backend gdal: built without the gdal tag")
	}
	return raster.NewTIFFStore(fs), nil
}
