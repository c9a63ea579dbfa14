package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	in := []byte("hello")
	var b bytes.Buffer
	if err := WriteFrame(&b, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadFrame(&b)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatalf("got %q", out)
	}
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	tooBig := make([]byte, MaxFrameSize+1)
	var b bytes.Buffer
	if err := WriteFrame(&b, tooBig); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecoderFeedByByte(t *testing.T) {
	var want bytes.Buffer
	if err := WriteFrame(&want, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&want, []byte("two")); err != nil {
		t.Fatal(err)
	}

	d := NewDecoder()
	var got []string
	for _, c := range want.Bytes() {
		d.Feed([]byte{c})
		for {
			payload, ok, err := d.Next()
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				break
			}
			got = append(got, string(payload))
		}
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	d := NewDecoder()
	header := make([]byte, 4)
	header[0], header[1], header[2], header[3] = 0xff, 0xff, 0xff, 0xff
	d.Feed(header)
	if _, _, err := d.Next(); err == nil {
		t.Fatal("expected error")
	}
}
