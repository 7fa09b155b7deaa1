package shared

// Page limits shared by list endpoints.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// NormalizePage clamps limit/offset into the supported range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
