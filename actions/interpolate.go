package actions

import (
	"fmt"
	"regexp"

	"github.com/crmflow/crmflow/core"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Interpolate replaces {{field_name}} placeholders with the record's field
// values. Unknown fields render as an empty string so a template typo
// produces a visible gap instead of a failed action.
func Interpolate(template string, record core.Record) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		field := placeholderRe.FindStringSubmatch(match)[1]

		v, ok := record[field]
		if !ok || v == nil {
			return ""
		}

		return fmt.Sprintf("%v", v)
	})
}
