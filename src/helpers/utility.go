package helpers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a fresh random UUID string.
func GenerateUUID() string {
	return uuid.New().String()
}

// SafeName validates a collection or field name for use in file names.
// Collection names become directory names and index file names join the
// collection and field with an underscore, so the underscore and path
// characters are reserved.
func SafeName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.ContainsAny(name, "_/\\") {
		return fmt.Errorf("name %q contains a reserved character (underscore or path separator)", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// SafeFieldName validates a field path for index creation. Dots are allowed
// (they separate path segments) but underscores and path characters are not,
// with the single exception of the leading underscore in "_id".
func SafeFieldName(field string) error {
	if field == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if field == "_id" {
		return nil
	}
	if strings.ContainsAny(field, "_/\\") {
		return fmt.Errorf("field name %q contains a reserved character (underscore or path separator)", field)
	}
	return nil
}

// Helper function to properly remove quotes from strings
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
