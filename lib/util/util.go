// Package util contains helper functions used around the code.
package util

import "strings"

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}

	return false
}

// Split returns the non-empty, space trimmed elements of a comma separated list.
func Split(s string) []string {
	parts := strings.Split(s, ",")
	l := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			l = append(l, p)
		}
	}

	return l
}
