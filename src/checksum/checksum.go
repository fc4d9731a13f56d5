// Package checksum computes the file and directory digests that protect
// store version transfers. A version directory carries one digest per data
// file, plus an aggregate digest over the per-file digests, and both are
// verified after a fetch.
package checksum

import (
	"crypto/md5"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"sort"
	"strings"
)

// Type identifies a checksum algorithm.
type Type int

const (
	// None disables checksum verification
	None Type = iota
	// Adler32 is cheap but weak
	Adler32
	// CRC32 uses the IEEE polynomial
	CRC32
	// MD5 is the default
	MD5
)

// TypeFromString parses the string representation of a checksum algorithm.
func TypeFromString(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return None, nil
	case "adler32":
		return Adler32, nil
	case "crc32":
		return CRC32, nil
	case "md5":
		return MD5, nil
	}
	return None, fmt.Errorf("unknown checksum type %s", s)
}

func (t Type) String() string {
	switch t {
	case Adler32:
		return "adler32"
	case CRC32:
		return "crc32"
	case MD5:
		return "md5"
	}
	return "none"
}

// CheckSum accumulates bytes and produces a digest. A CheckSum of type None
// accepts writes and produces a nil digest, so callers do not need to treat
// it specially.
type CheckSum struct {
	typ  Type
	hash hash.Hash
}

// New returns a CheckSum for the given algorithm.
func New(t Type) *CheckSum {
	var h hash.Hash

	switch t {
	case Adler32:
		h = adler32.New()
	case CRC32:
		h = crc32.NewIEEE()
	case MD5:
		h = md5.New()
	}

	return &CheckSum{
		typ:  t,
		hash: h,
	}
}

// Type returns the algorithm this CheckSum computes.
func (c *CheckSum) Type() Type {
	return c.typ
}

// Write feeds data into the digest. It implements io.Writer and never
// returns an error.
func (c *CheckSum) Write(p []byte) (int, error) {
	if c.hash == nil {
		return len(p), nil
	}
	return c.hash.Write(p)
}

// Sum returns the digest of everything written since the last call to Sum,
// and resets the underlying hash.
func (c *CheckSum) Sum() []byte {
	if c.hash == nil {
		return nil
	}

	d := c.hash.Sum(nil)
	c.hash.Reset()

	return d
}

// Aggregate combines per-file digests into a single directory digest. Files
// are folded in ascending file-name order so the result does not depend on
// the order in which they were fetched.
func Aggregate(t Type, fileDigests map[string][]byte) []byte {
	if t == None || len(fileDigests) == 0 {
		return nil
	}

	names := make([]string, 0, len(fileDigests))
	for n := range fileDigests {
		names = append(names, n)
	}
	sort.Strings(names)

	cs := New(t)
	for _, n := range names {
		cs.Write(fileDigests[n])
	}

	return cs.Sum()
}
