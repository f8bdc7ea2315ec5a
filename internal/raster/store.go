package raster

// Store reads and writes rasters by path. Every Write derives its on-disk
// metadata from the buffer being written.
type Store interface {
	Read(path string) (*Buffer, error)
	Write(path string, buf *Buffer) error
}
