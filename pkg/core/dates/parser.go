// Package dates turns Korean date phrases into concrete search windows.
// It understands relative spans ("최근 3개월", "지난 1년"), calendar names
// (올해, 작년, 지난달, 분기), and explicit dates in dash, dot, and 년월일
// notation. Anything it cannot read falls back to the last 90 days.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"dart_deepsearch/pkg/models"
)

// DefaultWindowDays is the fallback span when no date phrase is
// recognized.
const DefaultWindowDays = 90

var (
	// 2024-01-01 ~ 2024-06-30, 2024.1.1~2024.6.30, 2024년 1월 1일 ~ 2024년 6월 30일
	reExplicitRange = regexp.MustCompile(`(\d{4})[.\-/년\s]{1,2}(\d{1,2})[.\-/월\s]{1,2}(\d{1,2})일?\s*[~∼〜-]\s*(\d{4})[.\-/년\s]{1,2}(\d{1,2})[.\-/월\s]{1,2}(\d{1,2})일?`)
	// 20240101~20240630
	reCompactRange = regexp.MustCompile(`(\d{8})\s*[~∼〜-]\s*(\d{8})`)
	// 최근 3개월, 지난 2주, 최근 1년
	reRecent = regexp.MustCompile(`(?:최근|지난)\s*(\d+)\s*(년|개월|달|주일?|일)`)
	// 2024년 1분기
	reYearQuarter = regexp.MustCompile(`(\d{4})년\s*([1-4])\s*분기`)
	// 작년 3분기, 올해 1분기
	reRelQuarter = regexp.MustCompile(`(올해|금년|작년|지난해|재작년)\s*([1-4])\s*분기`)
	// 3분기 (year implied)
	reQuarter = regexp.MustCompile(`([1-4])\s*분기`)
	// 2024년 3월 15일
	reKoreanDate = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
	// 2023년 5월
	reYearMonth = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월`)
	// 작년 5월
	reRelMonth = regexp.MustCompile(`(올해|금년|작년|지난해|재작년)\s*(\d{1,2})월`)
	// 2024-03-15
	reSingleDate = regexp.MustCompile(`(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})`)
	// 2023년
	reYear = regexp.MustCompile(`(\d{4})년`)
)

// Parse extracts a date window from text. ok is false when nothing was
// recognized and the default window applies; the caller should attach a
// warning to the run in that case. The end never passes today, and
// begin never passes end.
func Parse(text string, today time.Time) (models.DateRange, bool) {
	today = truncate(today)
	loc := today.Location()

	if m := reExplicitRange.FindStringSubmatch(text); m != nil {
		begin, ok1 := mkDate(loc, m[1], m[2], m[3])
		end, ok2 := mkDate(loc, m[4], m[5], m[6])
		if ok1 && ok2 {
			if begin.After(end) {
				begin, end = end, begin
			}
			return clamp(begin, end, today), true
		}
	}

	if m := reCompactRange.FindStringSubmatch(text); m != nil {
		begin, err1 := time.ParseInLocation("20060102", m[1], loc)
		end, err2 := time.ParseInLocation("20060102", m[2], loc)
		if err1 == nil && err2 == nil {
			if begin.After(end) {
				begin, end = end, begin
			}
			return clamp(begin, end, today), true
		}
	}

	if m := reRecent.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			var begin time.Time
			switch {
			case m[2] == "년":
				begin = today.AddDate(-n, 0, 0)
			case m[2] == "개월" || m[2] == "달":
				begin = today.AddDate(0, -n, 0)
			case strings.HasPrefix(m[2], "주"):
				begin = today.AddDate(0, 0, -7*n)
			default: // 일
				begin = today.AddDate(0, 0, -n)
			}
			return clamp(begin, today, today), true
		}
	}

	if m := reYearQuarter.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		begin, end := quarterSpan(y, q, loc)
		return clamp(begin, end, today), true
	}

	if m := reRelQuarter.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[2])
		begin, end := quarterSpan(today.Year()+relYearOffset(m[1]), q, loc)
		return clamp(begin, end, today), true
	}

	if m := reQuarter.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		begin, end := quarterSpan(today.Year(), q, loc)
		if begin.After(today) {
			// A quarter that has not started yet means last year's.
			begin, end = quarterSpan(today.Year()-1, q, loc)
		}
		return clamp(begin, end, today), true
	}

	if m := reKoreanDate.FindStringSubmatch(text); m != nil {
		if d, ok := mkDate(loc, m[1], m[2], m[3]); ok {
			return clamp(d, d, today), true
		}
	}

	if m := reYearMonth.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 {
			begin := time.Date(y, time.Month(mo), 1, 0, 0, 0, 0, loc)
			return clamp(begin, endOfMonth(begin), today), true
		}
	}

	if m := reRelMonth.FindStringSubmatch(text); m != nil {
		mo, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 {
			begin := time.Date(today.Year()+relYearOffset(m[1]), time.Month(mo), 1, 0, 0, 0, 0, loc)
			return clamp(begin, endOfMonth(begin), today), true
		}
	}

	if r, ok := calendarName(text, today); ok {
		return r, true
	}

	if m := reSingleDate.FindStringSubmatch(text); m != nil {
		if d, ok := mkDate(loc, m[1], m[2], m[3]); ok {
			return clamp(d, d, today), true
		}
	}

	if m := reYear.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		begin := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end := time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
		return clamp(begin, end, today), true
	}

	return Default(today), false
}

// Default is the last-90-days window ending today.
func Default(today time.Time) models.DateRange {
	today = truncate(today)
	return models.DateRange{Begin: today.AddDate(0, 0, -DefaultWindowDays), End: today}
}

func calendarName(text string, today time.Time) (models.DateRange, bool) {
	loc := today.Location()
	switch {
	case strings.Contains(text, "오늘"):
		return models.DateRange{Begin: today, End: today}, true
	case strings.Contains(text, "어제"):
		y := today.AddDate(0, 0, -1)
		return models.DateRange{Begin: y, End: y}, true
	case strings.Contains(text, "이번달") || strings.Contains(text, "이번 달"):
		begin := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
		return models.DateRange{Begin: begin, End: today}, true
	case strings.Contains(text, "지난달") || strings.Contains(text, "지난 달"):
		begin := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
		return models.DateRange{Begin: begin, End: endOfMonth(begin)}, true
	case strings.Contains(text, "올해") || strings.Contains(text, "금년"):
		begin := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return models.DateRange{Begin: begin, End: today}, true
	case strings.Contains(text, "재작년"):
		return yearSpan(today.Year()-2, loc), true
	case strings.Contains(text, "작년") || strings.Contains(text, "지난해"):
		return yearSpan(today.Year()-1, loc), true
	}
	return models.DateRange{}, false
}

func relYearOffset(word string) int {
	switch word {
	case "작년", "지난해":
		return -1
	case "재작년":
		return -2
	default: // 올해, 금년
		return 0
	}
}

func yearSpan(y int, loc *time.Location) models.DateRange {
	return models.DateRange{
		Begin: time.Date(y, time.January, 1, 0, 0, 0, 0, loc),
		End:   time.Date(y, time.December, 31, 0, 0, 0, 0, loc),
	}
}

func quarterSpan(year, quarter int, loc *time.Location) (time.Time, time.Time) {
	begin := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, loc)
	return begin, endOfMonth(begin.AddDate(0, 2, 0))
}

func endOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, -1)
}

// mkDate builds a date and rejects out-of-range month/day values
// instead of letting time.Date normalize them into a different month.
func mkDate(loc *time.Location, ys, ms, ds string) (time.Time, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func clamp(begin, end, today time.Time) models.DateRange {
	if end.After(today) {
		end = today
	}
	if begin.After(end) {
		begin = end
	}
	return models.DateRange{Begin: begin, End: end}
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
