package encryption

import (
	"io"

	"storyfs/internal/story"
)

// PlainSealer stores snapshots unencrypted. It backs the "none" encryption
// type, for vaults that are already private such as a local disk.
type PlainSealer struct{}

var _ story.Sealer = PlainSealer{}

func (PlainSealer) GenerateKeys(string) error { return nil }

func (PlainSealer) Seal(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }

func (PlainSealer) Unseal(r io.Reader, _ string) (io.Reader, error) { return r, nil }

func (PlainSealer) Ready() bool { return true }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
