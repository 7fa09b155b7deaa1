package statements

import "fmt"

// NumberPrefix builds the per-period statement number prefix, e.g. STMT-24-03.
func NumberPrefix(year, periodSeq int) string {
	return fmt.Sprintf("STMT-%02d-%02d", year%100, periodSeq)
}

// FormatNumber renders the counter under prefix, e.g. STMT-24-03-000001. Counters past
// 999999 widen; ordering always uses the numeric counter, never the rendered text.
func FormatNumber(prefix string, counter int64) string {
	return fmt.Sprintf("%s-%06d", prefix, counter)
}
