package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type DatePrecision int

const (
	DatePrecisionNone DatePrecision = iota
	DatePrecisionYear
	DatePrecisionMonth
	DatePrecisionDay
)

var datePattern = regexp.MustCompile(`(1[89]\d{2}|20\d{2})(?:\s*[-/.年]\s*(\d{1,2})(?:\s*[-/.月]\s*(\d{1,2}))?)?`)

// NormalizeDate rewrites a loosely formatted date into YYYY, YYYY-MM or
// YYYY-MM-DD and reports its precision. Unparseable input yields "".
func NormalizeDate(raw string) (string, DatePrecision) {
	value := strings.TrimSpace(raw)
	if IsMissing(value) {
		return "", DatePrecisionNone
	}
	match := datePattern.FindStringSubmatch(value)
	if match == nil {
		return "", DatePrecisionNone
	}
	year := match[1]
	month, _ := strconv.Atoi(match[2])
	day, _ := strconv.Atoi(match[3])
	if month < 1 || month > 12 {
		return year, DatePrecisionYear
	}
	if day < 1 || day > 31 {
		return fmt.Sprintf("%s-%02d", year, month), DatePrecisionMonth
	}
	return fmt.Sprintf("%s-%02d-%02d", year, month, day), DatePrecisionDay
}

func DatePrecisionOf(raw string) DatePrecision {
	_, precision := NormalizeDate(raw)
	return precision
}

// YearOf returns the four-digit year prefix of a date, or "".
func YearOf(raw string) string {
	normalized, precision := NormalizeDate(raw)
	if precision == DatePrecisionNone {
		return ""
	}
	return normalized[:4]
}

// PickBetterDate keeps current unless candidate is strictly more precise.
// An empty current always yields candidate.
func PickBetterDate(current, candidate string) string {
	currentPrecision := DatePrecisionOf(current)
	candidatePrecision := DatePrecisionOf(candidate)
	if currentPrecision == DatePrecisionNone {
		if candidatePrecision == DatePrecisionNone {
			return current
		}
		return candidate
	}
	if candidatePrecision > currentPrecision {
		return candidate
	}
	return current
}
