package history

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeCursor renders a (timestamp, row id) keyset continuation token for
// drivers that page by timestamp with a row id tie-breaker.
func EncodeCursor(ts, id int64) string {
	return strconv.FormatInt(ts, 10) + ":" + strconv.FormatInt(id, 10)
}

// DecodeCursor parses a token made by EncodeCursor. The empty token starts
// before every row.
func DecodeCursor(token string) (ts, id int64, err error) {
	if token == "" {
		return -1 << 63, 0, nil
	}
	tsPart, idPart, ok := strings.Cut(token, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid continuation token %q", token)
	}
	if ts, err = strconv.ParseInt(tsPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid continuation token %q: %w", token, err)
	}
	if id, err = strconv.ParseInt(idPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid continuation token %q: %w", token, err)
	}
	return ts, id, nil
}
