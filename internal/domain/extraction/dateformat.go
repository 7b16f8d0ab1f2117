package extraction

import (
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// dateFormatter renders times in a user supplied format. Formats containing
// '%' use strftime syntax; anything else uses moment-style tokens such as
// "YYYY-MM-DD HH:mm:ss". Both are also used to parse values back, except
// strftime formats with verbs that have no Go layout equivalent.
type dateFormatter struct {
	layout   string // Go layout, empty for strftime formats
	strftime *strftime.Strftime
}

func (f *dateFormatter) format(t time.Time) string {
	if f.strftime != nil {
		return f.strftime.FormatString(t)
	}
	return t.Format(f.layout)
}

func (f *dateFormatter) parse(s string, loc *time.Location) (time.Time, bool) {
	if f.layout == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(f.layout, s, loc)
	return t, err == nil
}

var formatters sync.Map // format string -> *dateFormatter

func formatterFor(format string) *dateFormatter {
	if cached, ok := formatters.Load(format); ok {
		return cached.(*dateFormatter)
	}
	f := &dateFormatter{}
	if strings.Contains(format, "%") {
		sf, err := strftime.New(format, strftime.WithMilliseconds('L'))
		if err == nil {
			f.strftime = sf
			f.layout = strftimeToLayout(format)
		} else {
			f.layout = momentToLayout(format)
		}
	} else {
		f.layout = momentToLayout(format)
	}
	formatters.Store(format, f)
	return f
}

// momentTokens is ordered so longer tokens win at each position.
var momentTokens = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"MMMM", "January"},
	{"dddd", "Monday"},
	{"SSS", ".000"},
	{"MMM", "Jan"},
	{"ddd", "Mon"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"ZZ", "-0700"},
	{"M", "1"},
	{"D", "2"},
	{"h", "3"},
	{"m", "4"},
	{"s", "5"},
	{"A", "PM"},
	{"a", "pm"},
	{"Z", "-07:00"},
}

// momentToLayout converts moment-style tokens into a Go time layout. Text in
// square brackets is copied literally.
func momentToLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '[' {
			if end := strings.IndexByte(format[i:], ']'); end > 0 {
				b.WriteString(format[i+1 : i+end])
				i += end + 1
				continue
			}
		}
		matched := false
		for _, tok := range momentTokens {
			if strings.HasPrefix(format[i:], tok.token) {
				layout := tok.layout
				// Go only accepts fractional seconds right after a separator.
				if tok.token == "SSS" && i > 0 && (format[i-1] == '.' || format[i-1] == ',') {
					layout = "000"
				}
				b.WriteString(layout)
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

var strftimeVerbs = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'e': "_2",
	'H': "15", 'I': "03", 'M': "04", 'S': "05", 'p': "PM",
	'b': "Jan", 'h': "Jan", 'B': "January", 'a': "Mon", 'A': "Monday",
	'z': "-0700", 'Z': "MST", 'F': "2006-01-02", 'T': "15:04:05",
	'D': "01/02/06", 'R': "15:04", '%': "%",
}

// strftimeToLayout returns the Go layout equivalent of a strftime format,
// or "" when a verb has none.
func strftimeToLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		i++
		if i == len(format) {
			return ""
		}
		if format[i] == 'L' && i >= 2 && format[i-2] == '.' {
			b.WriteString("000")
			continue
		}
		layout, ok := strftimeVerbs[format[i]]
		if !ok {
			return ""
		}
		b.WriteString(layout)
	}
	return b.String()
}
