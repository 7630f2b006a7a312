package watermark

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseSince turns an explicit --since value into a watermark. It accepts
// RFC3339 timestamps, plain dates (2024-05-01) and English expressions
// such as "yesterday" or "last week", relative to now.
func ParseSince(expr string, now time.Time) (Watermark, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return None, nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return At(format(t)), nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, expr, time.UTC); err == nil {
		return At(format(t)), nil
	}

	r, err := parser.Parse(expr, now)
	if err != nil {
		return None, fmt.Errorf("failed to parse since %q: %w", expr, err)
	}
	if r == nil {
		return None, fmt.Errorf("failed to parse since %q: not a date or time", expr)
	}
	return At(format(r.Time)), nil
}

func format(t time.Time) string {
	return t.UTC().Format(Layout)
}
