package memory

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var expiryPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?|an?)\s*(minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|wks?|w|months?|mo|years?|yrs?|y)$`)

var expiryUnits = map[string]time.Duration{
	"m":      time.Minute,
	"min":    time.Minute,
	"minute": time.Minute,
	"h":      time.Hour,
	"hr":     time.Hour,
	"hour":   time.Hour,
	"d":      24 * time.Hour,
	"day":    24 * time.Hour,
	"w":      7 * 24 * time.Hour,
	"wk":     7 * 24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"mo":     30 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"y":      365 * 24 * time.Hour,
	"yr":     365 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseExpiry 将过期提示解析为绝对时间。
// 空串与 never/permanent/forever 返回 nil（永不过期）；无法识别的提示使用 fallback。
func ParseExpiry(hint string, now time.Time, fallback time.Duration) *time.Time {
	h := strings.ToLower(strings.TrimSpace(hint))
	h = strings.TrimPrefix(h, "in ")

	switch h {
	case "", "never", "permanent", "forever", "none":
		return nil
	case "today":
		return expiresAt(now, 24*time.Hour)
	case "tomorrow":
		return expiresAt(now, 48*time.Hour)
	}

	if d, err := time.ParseDuration(h); err == nil && d > 0 {
		return expiresAt(now, d)
	}

	if d, ok := parseHumanDuration(h); ok {
		if d == forever {
			return nil
		}
		return expiresAt(now, d)
	}

	if fallback <= 0 {
		return nil
	}
	return expiresAt(now, fallback)
}

// forever 表示提示超出 time.Duration 可表示的范围（约 292 年），按永不过期处理
const forever = time.Duration(math.MaxInt64)

func parseHumanDuration(h string) (time.Duration, bool) {
	m := expiryPattern.FindStringSubmatch(h)
	if m == nil {
		return 0, false
	}

	amount := 1.0
	if m[1] != "a" && m[1] != "an" {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			return 0, false
		}
		amount = v
	}

	unit := m[2]
	base, ok := expiryUnits[unit]
	if !ok {
		base, ok = expiryUnits[strings.TrimSuffix(unit, "s")]
	}
	if !ok {
		return 0, false
	}
	total := amount * float64(base)
	if total >= math.MaxInt64 {
		return forever, true
	}
	if total < 1 {
		return 0, false
	}
	return time.Duration(total), true
}

func expiresAt(now time.Time, d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}
