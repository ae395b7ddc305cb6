package operations

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"ffmpeg-api/internal/apierr"
)

// Param declares one operation-specific request field.
type Param struct {
	Name     string
	Required bool
	Default  string
	// Validate returns a validation error naming the field.
	Validate func(name, value string) error
}

var (
	secondsPattern   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	timestampPattern = regexp.MustCompile(`^(\d{1,2}):([0-5]\d):([0-5]\d(?:\.\d+)?)$`)
)

// ParseTime converts "SS(.ms)" or "HH:MM:SS(.ms)" into seconds.
func ParseTime(value string) (float64, bool) {
	value = strings.TrimSpace(value)

	if secondsPattern.MatchString(value) {
		secs, err := strconv.ParseFloat(value, 64)
		return secs, err == nil
	}

	m := timestampPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + secs, true
}

// TimeValue accepts a seek position.
func TimeValue(name, value string) error {
	if _, ok := ParseTime(value); !ok {
		return apierr.Validation("%s must be seconds or HH:MM:SS, got %q", name, value)
	}
	return nil
}

// FloatRange accepts a plain decimal number within [min, max]. The value
// is passed to ffmpeg as written, so NaN, Inf, hex and exponent forms are
// rejected.
func FloatRange(min, max float64) func(name, value string) error {
	return func(name, value string) error {
		value = strings.TrimSpace(value)
		if !secondsPattern.MatchString(value) {
			return apierr.Validation("%s must be a number, got %q", name, value)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return apierr.Validation("%s must be a number, got %q", name, value)
		}
		if f < min || f > max {
			return apierr.Validation("%s must be between %g and %g", name, min, max)
		}
		return nil
	}
}

// IntRange accepts an integer within [min, max].
func IntRange(min, max int) func(name, value string) error {
	return func(name, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return apierr.Validation("%s must be an integer, got %q", name, value)
		}
		if n < min || n > max {
			return apierr.Validation("%s must be between %d and %d", name, min, max)
		}
		return nil
	}
}

// OneOf accepts one of the listed values.
func OneOf(values ...string) func(name, value string) error {
	return func(name, value string) error {
		for _, v := range values {
			if value == v {
				return nil
			}
		}
		return apierr.Validation("%s must be one of %s", name, strings.Join(values, ", "))
	}
}

// Dimension accepts a scale dimension: a positive size, or -1 / -2 to keep
// the aspect ratio.
func Dimension(name, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return apierr.Validation("%s must be an integer, got %q", name, value)
	}
	if n == -1 || n == -2 || (n > 0 && n <= 8192) {
		return nil
	}
	return apierr.Validation("%s must be between 1 and 8192, or -1/-2 to keep the aspect ratio", name)
}

// NotBlank accepts any non-empty value.
func NotBlank(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierr.Validation("%s is required", name)
	}
	return nil
}

// timeOrder checks that end comes after start.
func timeOrder(params map[string]string) error {
	start, _ := ParseTime(params["start"])
	end, _ := ParseTime(params["end"])
	if end <= start {
		return apierr.Validation("end must be after start")
	}
	return nil
}

// scaleCheck rejects a resize where both sides are derived.
func scaleCheck(params map[string]string) error {
	w, _ := strconv.Atoi(params["width"])
	h, _ := strconv.Atoi(params["height"])
	if w < 0 && h < 0 {
		return apierr.Validation("width and height cannot both be negative")
	}
	return nil
}
