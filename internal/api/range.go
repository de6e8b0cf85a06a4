package api

import (
	"strconv"
	"strings"
)

// byteRange is a validated byte range with an inclusive end.
type byteRange struct {
	start, end int64
}

// parseRange interprets a Range header against a file of the given
// size. It returns (nil, true) when the whole file should be served
// with 200: no header, a malformed header, or an open-ended
// "bytes=start-" request. A well-formed but unsatisfiable range
// returns ok=false. Multi-range requests are not supported and fall
// back to the whole file.
func parseRange(header string, size int64) (*byteRange, bool) {
	if header == "" {
		return nil, true
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return nil, true
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return nil, true
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return nil, true
	}

	// No end given: the daemon serves the whole file with 200.
	if strings.TrimSpace(endStr) == "" {
		return nil, true
	}

	end, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
	if err != nil {
		return nil, true
	}

	if end < start || start >= size || end >= size {
		return nil, false
	}
	return &byteRange{start: start, end: end}, true
}
