//go:build unix && !linux

package fs

func birthTime(string) int64 { return 0 }
