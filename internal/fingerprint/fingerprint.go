// Package fingerprint computes 64-bit simhash fingerprints for free text and
// the four-part split used for indexed near-duplicate lookup.
package fingerprint

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Tolerance is the exclusive Hamming distance below which two fingerprints
// are considered the same text.
const Tolerance = 3

const shingleWidth = 4

// Fingerprint is a 64-bit locality-sensitive digest.
type Fingerprint uint64

// Of fingerprints text. Text is lower-cased and reduced to letters and digits
// before shingling, so whitespace and punctuation never affect the result.
func Of(text string) Fingerprint {
	runes := normalize(text)
	if len(runes) == 0 {
		return 0
	}

	weights := make(map[uint64]int)
	count := len(runes) - shingleWidth + 1
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		end := min(i+shingleWidth, len(runes))
		weights[xxhash.Sum64String(string(runes[i:end]))]++
	}

	var votes [64]int
	for h, w := range weights {
		for bit := 0; bit < 64; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				votes[bit] += w
			} else {
				votes[bit] -= w
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if votes[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return Fingerprint(result)
}

func normalize(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			out = append(out, r)
		}
	}
	return out
}

// Distance is the Hamming distance between a and b.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a) ^ uint64(b))
}

// Near reports whether a and b are within Tolerance.
func Near(a, b Fingerprint) bool {
	return Distance(a, b) < Tolerance
}

// Split returns the four 16-bit parts, most significant first.
func (f Fingerprint) Split() [4]uint16 {
	return [4]uint16{
		uint16(f >> 48),
		uint16(f >> 32),
		uint16(f >> 16),
		uint16(f),
	}
}

// Combine is the inverse of Split.
func Combine(parts [4]uint16) Fingerprint {
	return Fingerprint(uint64(parts[0])<<48 | uint64(parts[1])<<32 | uint64(parts[2])<<16 | uint64(parts[3]))
}

// Int64 is the signed bit pattern used for bigint columns.
func (f Fingerprint) Int64() int64 {
	return int64(f)
}

// FromInt64 reverses Int64.
func FromInt64(v int64) Fingerprint {
	return Fingerprint(uint64(v))
}

// Text pairs a text value with its fingerprint. The fingerprint is never
// updated in place; replacing the value means building a new Text.
type Text struct {
	Value       string      `json:"value"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// NewText fingerprints value. Blank values yield the zero Text.
func NewText(value string) Text {
	if strings.TrimSpace(value) == "" {
		return Text{}
	}
	return Text{Value: value, Fingerprint: Of(value)}
}

func (t Text) IsZero() bool {
	return t.Value == ""
}

// Parts returns the storage representation of the fingerprint parts.
func (t Text) Parts() [4]int32 {
	split := t.Fingerprint.Split()
	return [4]int32{int32(split[0]), int32(split[1]), int32(split[2]), int32(split[3])}
}
