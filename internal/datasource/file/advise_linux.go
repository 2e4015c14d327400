//go:build linux

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential asks for aggressive read-ahead on large sequential scans.
// Failures are ignored: the hint is optional.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
}
