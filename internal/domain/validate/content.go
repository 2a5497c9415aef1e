package validate

// DefaultContentSizeLimit is the default cap on fetched or read content
// size, 10 MiB.
const DefaultContentSizeLimit = 10 * 1024 * 1024

// CheckContentSize fails when len(data) exceeds limit. A limit <= 0 uses
// DefaultContentSizeLimit.
func CheckContentSize(data []byte, field string, limit int) error {
	if limit <= 0 {
		limit = DefaultContentSizeLimit
	}
	if len(data) > limit {
		return &SizeExceededError{Field: field, Limit: limit, Got: len(data)}
	}
	return nil
}
