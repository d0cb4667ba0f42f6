package encryption

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"storyfs/internal/config"
)

func newTestAgeSealer(t *testing.T) *AgeSealer {
	t.Helper()
	dir := t.TempDir()
	return NewAgeSealer(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "storyfs.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "storyfs.key"),
	})
}

func seal(t *testing.T, s *AgeSealer, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := s.Seal(&buf)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("writing sealed data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing sealer: %v", err)
	}
	return buf.Bytes()
}

func TestAgeSealer_Ready(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)
	if s.Ready() {
		t.Error("Ready() = true before GenerateKeys, want false")
	}
	if err := s.GenerateKeys("test-passphrase"); err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	if !s.Ready() {
		t.Error("Ready() = false after GenerateKeys, want true")
	}
}

func TestAgeSealer_GenerateKeys(t *testing.T) {
	t.Parallel()

	t.Run("refuses to replace keys", func(t *testing.T) {
		t.Parallel()
		s := newTestAgeSealer(t)
		if err := s.GenerateKeys("first"); err != nil {
			t.Fatalf("GenerateKeys() error = %v", err)
		}
		if err := s.GenerateKeys("second"); err == nil {
			t.Error("second GenerateKeys() should return error")
		}
	})

	t.Run("rejects empty passphrase", func(t *testing.T) {
		t.Parallel()
		if err := newTestAgeSealer(t).GenerateKeys(""); err == nil {
			t.Error("GenerateKeys(\"\") should return error")
		}
	})
}

func TestAgeSealer_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			passphrase := "test-passphrase"
			s := newTestAgeSealer(t)
			if err := s.GenerateKeys(passphrase); err != nil {
				t.Fatalf("GenerateKeys() error = %v", err)
			}

			sealed := seal(t, s, tt.input)
			if len(tt.input) > 0 && bytes.Equal(sealed, tt.input) {
				t.Error("sealed output is identical to plaintext")
			}

			r, err := s.Unseal(bytes.NewReader(sealed), passphrase)
			if err != nil {
				t.Fatalf("Unseal() error = %v", err)
			}
			plain, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("reading unsealed data: %v", err)
			}
			if !bytes.Equal(plain, tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", len(plain), len(tt.input))
			}
		})
	}
}

func TestAgeSealer_UnsealWrongPassphrase(t *testing.T) {
	t.Parallel()

	s := newTestAgeSealer(t)
	if err := s.GenerateKeys("correct-passphrase"); err != nil {
		t.Fatalf("GenerateKeys() error = %v", err)
	}
	sealed := seal(t, s, []byte("registry"))

	if _, err := s.Unseal(bytes.NewReader(sealed), "wrong-passphrase"); err == nil {
		t.Error("Unseal() with wrong passphrase should return error")
	}
}

func TestAgeSealer_BeforeKeys(t *testing.T) {
	t.Parallel()

	s := newTestAgeSealer(t)
	var buf bytes.Buffer
	if _, err := s.Seal(&buf); err == nil {
		t.Error("Seal() before GenerateKeys should return error")
	}
	if _, err := s.Unseal(bytes.NewReader(nil), "passphrase"); err == nil {
		t.Error("Unseal() before GenerateKeys should return error")
	}
}
