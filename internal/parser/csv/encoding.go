package csv

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// peekSize bounds how much of the stream is sniffed for encoding detection.
// Exported datasets are line-oriented; a few KB is plenty to classify them.
const peekSize = 4096

// DecodeReader wraps src with a decoder so downstream readers always see
// UTF-8. Detection order: UTF-8 BOM (stripped), UTF-16 LE/BE by BOM,
// valid UTF-8 passthrough, Latin-1 fallback for anything else.
//
// The returned name is the detected encoding, useful for logging.
func DecodeReader(src io.Reader) (io.Reader, string, error) {
	br := bufio.NewReaderSize(src, peekSize)

	head, err := br.Peek(peekSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", err
	}

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		if _, err := br.Discard(len(bomUTF8)); err != nil {
			return nil, "", err
		}
		return br, "utf-8-bom", nil

	case bytes.HasPrefix(head, bomUTF16LE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec), "utf-16le", nil

	case bytes.HasPrefix(head, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec), "utf-16be", nil
	}

	if validUTF8Prefix(head) {
		return br, "utf-8", nil
	}

	// Latin-1 decodes any byte sequence, so this never fails outright.
	return transform.NewReader(br, charmap.ISO8859_1.NewDecoder()), "latin-1", nil
}

// validUTF8Prefix checks a sniffed prefix, tolerating a multi-byte rune cut
// off at the peek boundary.
func validUTF8Prefix(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	// Trim up to 3 trailing bytes that may be a truncated rune.
	end := len(b)
	for cut := 0; cut < 4 && end > 0; cut++ {
		if utf8.Valid(b[:end]) {
			return true
		}
		end--
	}
	return false
}
