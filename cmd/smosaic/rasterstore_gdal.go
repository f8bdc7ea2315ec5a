//go:build gdal

package main

import (
	"github.com/go-git/go-billy/v5"

	"github.com/lox/smosaic/internal/raster"
)

func newRasterStore(kind string, fs billy.Filesystem) (raster.Store, error) {
	if kind == "gdal" {
		return raster.NewGDALStore(), nil
	}
	return raster.NewTIFFStore(fs), nil
}
