package iox

import (
	"bytes"
	"errors"
	"testing"
)

type spyCloser struct {
	closed bool
	err    error
}

func (s *spyCloser) Close() error { s.closed = true; return s.err }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCloseInto(t *testing.T) {
	closeErr := errors.New("upload failed")
	earlier := errors.New("write failed")

	tests := []struct {
		name  string
		prior error
		close error
		want  error
	}{
		{"both nil", nil, nil, nil},
		{"close error recorded", nil, closeErr, closeErr},
		{"earlier error kept", earlier, closeErr, earlier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prior
			s := &spyCloser{err: tt.close}
			CloseInto(&err, s)
			if !s.closed {
				t.Error("Close was not called")
			}
			if err != tt.want {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNopWriteCloser(t *testing.T) {
	var buf bytes.Buffer
	w := NopWriteCloser(&buf)
	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != "hi" {
		t.Errorf("buf = %q, want %q", buf.String(), "hi")
	}
}
