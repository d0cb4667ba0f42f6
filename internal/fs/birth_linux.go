package fs

import "golang.org/x/sys/unix"

// birthTime returns the creation time of path in nanoseconds since the epoch,
// or 0 when the filesystem does not report one.
func birthTime(path string) int64 {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx); err != nil {
		return 0
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return 0
	}
	return stx.Btime.Sec*1e9 + int64(stx.Btime.Nsec)
}
