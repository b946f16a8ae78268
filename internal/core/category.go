package core

import "strings"

// CategoryKey is the identifier limits and transactions are joined on.
// Labels differing only by case or whitespace share a key, so "Food",
// " food " and "FOOD" aggregate together.
func CategoryKey(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// SameCategory reports whether two free-text labels name the same category.
func SameCategory(a, b string) bool {
	return CategoryKey(a) == CategoryKey(b)
}

// keyOf prefers the stored key and falls back to the label for rows written
// before keys existed.
func keyOf(key, label string) string {
	if key != "" {
		return key
	}
	return CategoryKey(label)
}
