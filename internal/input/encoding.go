package input

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeReader wraps r so that UTF-8 and UTF-16 (LE/BE) inputs all come
// out as plain UTF-8 with any byte order mark stripped. Exports from
// admin tooling are frequently UTF-16 with a BOM.
func decodeReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}
