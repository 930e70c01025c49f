//go:build windows

package main

import (
	"io"
	"os"
)

// getDeviceSize on Windows: regular file seek only. Raw device targets
// need the image written on a Unix host.
func getDeviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	return 0, os.ErrInvalid
}
