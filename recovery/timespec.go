// ParseTimeSpec parses the -t flag's time-window cutoff (spec §6): either
// bare epoch seconds, or a duration with an h/d/w suffix meaning "now
// minus this much", e.g. "12h", "1d", "4w". time.ParseDuration only
// understands h/m/s, not d/w, so this is a small hand-written parser
// rather than a pack dependency — no library in the retrieval pack adds a
// day/week duration unit, and this is an ambient CLI-parsing concern, not
// a domain one (see DESIGN.md).
package recovery

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeSpec returns the cutoff as Unix milliseconds, matching the unit
// history timestamps are stored in (blob/command.go's nowMillis). now is
// the current time as Unix seconds, the unit the -t flag's own bare-epoch
// and relative (12h/1d/4w) forms are both expressed in; it is converted to
// milliseconds only in the final result so it lines up with Record.Timestamp.
func ParseTimeSpec(spec string, now int64) (int64, error) {
	if spec == "" {
		return 0, nil
	}

	if seconds, err := strconv.ParseInt(spec, 10, 64); err == nil {
		return seconds * 1000, nil
	}

	if len(spec) < 2 {
		return 0, fmt.Errorf("%w: invalid time spec %q", ErrFatal, spec)
	}

	suffix := spec[len(spec)-1]
	n, err := strconv.ParseInt(spec[:len(spec)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time spec %q", ErrFatal, spec)
	}

	var unit time.Duration
	switch suffix {
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown time spec suffix %q", ErrFatal, string(suffix))
	}

	cutoffSeconds := now - int64(time.Duration(n)*unit/time.Second)
	return cutoffSeconds * 1000, nil
}
