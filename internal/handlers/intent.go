package handlers

import (
	"errors"
	"strconv"
	"strings"
)

// splitFirst splits "word rest of text" at the first run of whitespace.
func splitFirst(args string) (head, rest string, ok bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", "", false
	}
	head = fields[0]
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), head))
	return head, rest, rest != ""
}

// parseSpecArgs reads "<n> <text>" with n counted from 1 and returns the
// zero-based index.
func parseSpecArgs(args string) (int, string, error) {
	head, rest, ok := splitFirst(args)
	if !ok {
		return 0, "", errors.New("missing text")
	}
	n, err := strconv.Atoi(strings.TrimSuffix(head, "."))
	if err != nil || n < 1 {
		return 0, "", errors.New("bad index")
	}
	return n - 1, rest, nil
}
