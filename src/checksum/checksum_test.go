package checksum

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestTypeFromString(t *testing.T) {
	for _, c := range []struct {
		in  string
		out Type
	}{
		{"none", None},
		{"", None},
		{"md5", MD5},
		{"MD5", MD5},
		{"adler32", Adler32},
		{"crc32", CRC32},
	} {
		got, err := TypeFromString(c.in)
		if err != nil {
			t.Fatalf("TypeFromString(%q): %v", c.in, err)
		}
		if got != c.out {
			t.Fatalf("TypeFromString(%q) => %v, expected %v", c.in, got, c.out)
		}
	}

	if _, err := TypeFromString("sha1"); err == nil {
		t.Fatal("TypeFromString should reject unknown algorithms")
	}
}

func TestSum(t *testing.T) {
	for _, c := range []struct {
		typ Type
		hex string
	}{
		{MD5, "5d41402abc4b2a76b9719d911017c592"},
		{Adler32, "062c0215"},
		{CRC32, "3610a686"},
	} {
		cs := New(c.typ)
		cs.Write([]byte("hello"))

		got := hex.EncodeToString(cs.Sum())
		if got != c.hex {
			t.Fatalf("%v digest => %s, expected %s", c.typ, got, c.hex)
		}
	}
}

func TestSumResets(t *testing.T) {
	cs := New(MD5)

	cs.Write([]byte("hello"))
	first := cs.Sum()

	cs.Write([]byte("hello"))
	second := cs.Sum()

	if !bytes.Equal(first, second) {
		t.Fatalf("digest after reset => %x, expected %x", second, first)
	}
}

func TestNone(t *testing.T) {
	cs := New(None)

	if n, err := cs.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write => (%d, %v)", n, err)
	}

	if d := cs.Sum(); d != nil {
		t.Fatalf("None digest => %x, expected nil", d)
	}
}

func TestAggregate(t *testing.T) {
	digests := map[string][]byte{
		"b.data":  {0x02},
		"a.index": {0x01},
		"c.data":  {0x03},
	}

	// Fold the digests manually in file-name order.
	cs := New(MD5)
	cs.Write([]byte{0x01})
	cs.Write([]byte{0x02})
	cs.Write([]byte{0x03})
	expected := cs.Sum()

	got := Aggregate(MD5, digests)
	if !bytes.Equal(got, expected) {
		t.Fatalf("Aggregate => %x, expected %x", got, expected)
	}

	if d := Aggregate(None, digests); d != nil {
		t.Fatalf("Aggregate(None) => %x, expected nil", d)
	}

	if d := Aggregate(MD5, nil); d != nil {
		t.Fatalf("Aggregate(empty) => %x, expected nil", d)
	}
}
