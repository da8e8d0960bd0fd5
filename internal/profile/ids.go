package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatID renders prefix-NNNN with four digits of zero padding.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// ParseID extracts the numeric part of an identifier with the given prefix.
func ParseID(prefix, id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MaxID returns the highest numeric suffix among ids carrying prefix, or 0.
func MaxID(prefix string, ids []string) int {
	max := 0
	for _, id := range ids {
		if n, ok := ParseID(prefix, id); ok && n > max {
			max = n
		}
	}
	return max
}

// NextID returns max+1 over ids, formatted. With no ids it returns prefix-0001.
func NextID(prefix string, ids []string) string {
	return FormatID(prefix, MaxID(prefix, ids)+1)
}
