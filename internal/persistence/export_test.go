package persistence

var (
	SplitBatch   = splitBatch
	Placeholders = placeholders
)
