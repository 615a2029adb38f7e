package bytecodec

import (
	"bytes"
	"testing"
)

func TestUint16RoundTrip(t *testing.T) {
	buf := PutUint16(nil, 0xBEEF)
	v, err := ReadUint16(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xBEEF {
		t.Fatalf("got %x want BEEF", v)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	buf := PutUint32(nil, 0xDEADBEEF)
	v, err := ReadUint32(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("got %x want DEADBEEF", v)
	}
}

func TestFloat64RoundTrip(t *testing.T) {
	want := 1691074331123.5
	buf := PutFloat64(nil, want)
	got, err := ReadFloat64(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBytes16RoundTrip(t *testing.T) {
	buf, err := PutBytes16(nil, []byte("hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadBytes16(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello.txt" {
		t.Fatalf("got %q want hello.txt", got)
	}
}

func FuzzBytes16RoundTrip(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("a"))
	f.Add([]byte("a/b/c.txt"))

	f.Fuzz(func(t *testing.T, v []byte) {
		buf, err := PutBytes16(nil, v)
		if err != nil {
			t.Skip()
		}
		got, err := ReadBytes16(bytes.NewReader(buf))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("got %q want %q", got, v)
		}
	})
}
