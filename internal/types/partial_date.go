package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PartialDate 可能只有年份或年月的日期，Present 表示至今
type PartialDate struct {
	Year    int
	Month   int
	Day     int
	Present bool
}

type dateLayout struct {
	layout string
	month  bool
	day    bool
}

// 按从具体到宽泛的顺序尝试
var dateLayouts = []dateLayout{
	{"2006-01-02", true, true},
	{"2006/01/02", true, true},
	{"January 2 2006", true, true},
	{"Jan 2 2006", true, true},
	{"2 January 2006", true, true},
	{"2 Jan 2006", true, true},
	{"2006-01", true, false},
	{"2006/01", true, false},
	{"2006-1", true, false},
	{"01/2006", true, false},
	{"1/2006", true, false},
	{"01-2006", true, false},
	{"January 2006", true, false},
	{"Jan 2006", true, false},
	{"2006 January", true, false},
	{"2006 Jan", true, false},
	{"2006", false, false},
}

var presentWords = map[string]struct{}{
	"present": {}, "current": {}, "currently": {}, "now": {}, "ongoing": {}, "today": {},
}

// ParsePartialDate 宽松解析日期字符串
func ParsePartialDate(s string) (*PartialDate, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if _, ok := presentWords[strings.ToLower(s)]; ok {
		return &PartialDate{Present: true}, true
	}

	if strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		s = strings.NewReplacer(".", "", ",", "").Replace(s)
		s = strings.Join(strings.Fields(s), " ")
		s = replaceFold(s, "sept ", "Sep ")
	}

	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		d := &PartialDate{Year: t.Year()}
		if l.month {
			d.Month = int(t.Month())
		}
		if l.day {
			d.Day = t.Day()
		}
		return d, true
	}
	return nil, false
}

func replaceFold(s, old, repl string) string {
	if i := strings.Index(strings.ToLower(s), old); i >= 0 {
		return s[:i] + repl + s[i+len(old):]
	}
	return s
}

// String 规范格式：YYYY、YYYY-MM、YYYY-MM-DD 或 Present
func (d PartialDate) String() string {
	switch {
	case d.Present:
		return "Present"
	case d.Day > 0:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	case d.Month > 0:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	default:
		return fmt.Sprintf("%04d", d.Year)
	}
}

// YearLabel 用于日期区间展示
func (d *PartialDate) YearLabel() string {
	if d == nil {
		return ""
	}
	if d.Present {
		return "Present"
	}
	return fmt.Sprintf("%d", d.Year)
}

func (d PartialDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *PartialDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParsePartialDate(s)
	if !ok {
		return fmt.Errorf("无法解析日期: %q", s)
	}
	*d = *parsed
	return nil
}
