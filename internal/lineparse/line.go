package lineparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/errlens/internal/model"
)

// LineRegex matches "[time] [app] Service.operation - CODE message".
var LineRegex = regexp.MustCompile(`\[(?P<time>.*?)\]\s+\[(?P<app>.*?)\]\s+(?P<svc>\w+)\.(?P<op>\w+)\s+-\s+(?P<code>\w+)\s+(?P<msg>.*)`)

var (
	timeIdx = LineRegex.SubexpIndex("time")
	appIdx  = LineRegex.SubexpIndex("app")
	svcIdx  = LineRegex.SubexpIndex("svc")
	opIdx   = LineRegex.SubexpIndex("op")
	codeIdx = LineRegex.SubexpIndex("code")
	msgIdx  = LineRegex.SubexpIndex("msg")
)

// ParseLine parses one text log line. Lines that do not follow the admin log
// layout, such as informational output, are rejected.
func ParseLine(line string) (model.LogRecord, bool) {
	m := LineRegex.FindStringSubmatch(line)
	if m == nil {
		return model.LogRecord{}, false
	}
	return model.LogRecord{
		Time:      m[timeIdx],
		App:       m[appIdx],
		Service:   m[svcIdx],
		Operation: m[opIdx],
		Code:      m[codeIdx],
		Message:   strings.TrimRight(m[msgIdx], "\r"),
	}.Normalize(), true
}

// IsError reports whether a record carries an error code, i.e. one that
// contains ERR or FAIL in any case.
func IsError(r model.LogRecord) bool {
	code := strings.ToUpper(r.Code)
	return strings.Contains(code, "ERR") || strings.Contains(code, "FAIL")
}
