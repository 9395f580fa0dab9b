package extract

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText tries UTF-8 first, then falls back to ISO-8859-1 (Latin-1) and
// finally Windows-1252 — the three-way chain for text files with no
// declared encoding. The first candidate that produces valid UTF-8 wins;
// Windows-1252 is a superset of Latin-1 for the printable range and always
// decodes cleanly, so it is the backstop.
func decodeText(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}
	if s, ok := decodeWith(charmap.ISO8859_1, raw); ok {
		return s, "iso-8859-1"
	}
	s, _ := decodeWith(charmap.Windows1252, raw)
	return s, "windows-1252"
}

func decodeWith(cm *charmap.Charmap, raw []byte) (string, bool) {
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), utf8.Valid(out)
}
