package recordbase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter substitutes {:name} placeholders in a filter expression with
// properly escaped parameter values, so that user input can be embedded in
// the backend's query language without manual quoting:
//
//	Filter("title ~ {:title} && created >= {:since}", map[string]any{
//		"title": "it's alive",
//		"since": time.Now().AddDate(0, -1, 0),
//	})
//
// Strings are single-quoted with internal quotes escaped, numbers and
// booleans are bare literals, nil becomes null, times use a space-separated
// ISO form, and everything else is embedded as quoted JSON text. Unmatched
// placeholders are left verbatim. The function is pure string templating
// with no network interaction.
func Filter(raw string, params map[string]any) string {
	for name, value := range params {
		raw = strings.ReplaceAll(raw, "{:"+name+"}", filterValue(value))
	}
	return raw
}

func filterValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return quoteFilterValue(v)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v)
	case time.Time:
		return quoteFilterValue(v.UTC().Format("2006-01-02 15:04:05.000") + "Z")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return quoteFilterValue(fmt.Sprintf("%v", v))
		}
		return quoteFilterValue(string(encoded))
	}
}

func quoteFilterValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}
