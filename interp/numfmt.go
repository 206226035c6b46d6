package interp

import "strconv"

// numfmt.go implements the binary-literal numeric formatting used at the
// lexer boundary (§6: "Integers are binary digit strings with optional
// sign") and honoured by PRINT (§8 scenario 1: ADD(10,1) prints "11") and
// the serializer (§4.8: "Integers serialize as signed binary-literal
// strings").

// formatIntBinary renders i as a signed binary digit string, e.g. 3 -> "11",
// -5 -> "-101", 0 -> "0".
func formatIntBinary(i int64) string {
	return strconv.FormatInt(i, 2)
}

// parseIntBinary parses a signed binary digit string back into an int64.
func parseIntBinary(s string) (int64, error) {
	return strconv.ParseInt(s, 2, 64)
}

// itoa/ftoa are plain decimal helpers used internally for map-key
// signatures and debug output where binary formatting would only hurt
// readability (they are not part of the language-visible surface).
func itoa(i int64) string { return strconv.FormatInt(i, 10) }
func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// formatFloat renders a float for PRINT/SER as the shortest plain decimal
// (no exponent) that parses back to the same float64, with INF/-INF/NaN
// sentinels (§4.8). The digit count is not fixed; it varies with the value.
func formatFloat(f float64) string {
	switch {
	case isPosInf(f):
		return "INF"
	case isNegInf(f):
		return "-INF"
	case isNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isPosInf(f float64) bool { return f > maxFloat && f == f }
func isNegInf(f float64) bool { return f < -maxFloat && f == f }
func isNaN(f float64) bool    { return f != f }

const maxFloat = 1.7976931348623157e+308
