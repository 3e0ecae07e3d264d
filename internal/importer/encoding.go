package importer

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ============================================================================
// Charset Handling - everything downstream sees plain UTF-8
// ============================================================================

func maybeGzip(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)
	if len(magic) >= 2 && magic[0] == 0x1F && magic[1] == 0x8B {
		gr, err := gzip.NewReader(br)
		if err == nil {
			return gr
		}
	}
	return br
}

// decodeCharset wraps the input so callers read UTF-8. UTF-8 BOM and
// UTF-16 (either endianness) are detected from the BOM; Latin-1 and
// Windows-1252 carry no BOM and must be declared by the caller.
func decodeCharset(br *bufio.Reader, declared string) (io.Reader, string, error) {
	head, _ := br.Peek(3)

	if len(head) >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		if _, err := br.Discard(3); err != nil {
			return nil, "", fmt.Errorf("discard UTF-8 BOM: %w", err)
		}
		return br, "utf-8-bom", nil
	}
	if len(head) >= 2 && head[0] == 0xFF && head[1] == 0xFE {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(br, dec), "utf-16le", nil
	}
	if len(head) >= 2 && head[0] == 0xFE && head[1] == 0xFF {
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		return transform.NewReader(br, dec), "utf-16be", nil
	}

	switch declared {
	case "", "utf-8":
		return br, "utf-8", nil
	case "latin-1", "iso-8859-1":
		return transform.NewReader(br, charmap.ISO8859_1.NewDecoder()), "latin-1", nil
	case "windows-1252", "cp1252":
		return transform.NewReader(br, charmap.Windows1252.NewDecoder()), "windows-1252", nil
	default:
		return nil, "", fmt.Errorf("unsupported encoding %q", declared)
	}
}
