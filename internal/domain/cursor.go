package domain

// Cursor is a named high-water mark over processed mention IDs. A single row
// per name; the value only ever moves forward.
type Cursor struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CursorLess compares two post IDs as Twitter snowflake-style numeric
// strings: a shorter ID is always smaller, equal lengths compare
// lexicographically. An empty ID is smaller than any real one.
func CursorLess(a, b string) bool {
	if a == "" {
		return b != ""
	}
	if b == "" {
		return false
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
