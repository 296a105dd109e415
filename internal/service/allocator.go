package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
)

// allocator hands out canonical identifiers for one migration run.
// It holds state only for the duration of the run: the seed is re-derived
// from the existing canonical identifiers every time a run starts, so the
// counter can never drift from storage truth across restarts.
type allocator struct {
	next map[string]int // role prefix → next number
}

// newAllocator seeds the per-role counters from the highest canonical
// number already present in the user collection (max+1, or 1 when the
// role has no canonical users yet).
func newAllocator(users []domain.User) *allocator {
	a := &allocator{next: make(map[string]int)}
	for _, u := range users {
		prefix, n, ok := splitCanonicalID(u.ID)
		if !ok {
			continue
		}
		if n >= a.next[prefix] {
			a.next[prefix] = n + 1
		}
	}
	return a
}

// allocate returns the next canonical identifier in the role's namespace.
// Allocation is sequential within a run; the migration executor never calls
// it concurrently, which is what guarantees uniqueness.
func (a *allocator) allocate(role domain.Role) string {
	id := a.peekNext(role)
	a.next[domain.RolePrefix(role)]++
	return id
}

// peekNext returns the identifier allocate would hand out, without
// consuming it.
func (a *allocator) peekNext(role domain.Role) string {
	prefix := domain.RolePrefix(role)
	n := a.next[prefix]
	if n == 0 {
		n = 1
		a.next[prefix] = 1
	}
	return formatCanonicalID(prefix, n)
}

// formatCanonicalID renders <PREFIX>-NNNN with four-digit zero padding.
// Numbers past 9999 widen naturally.
func formatCanonicalID(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// splitCanonicalID parses a canonical identifier into its prefix and
// number. ok is false for legacy identifiers.
func splitCanonicalID(id string) (prefix string, n int, ok bool) {
	if !domain.IsCanonicalID(id) {
		return "", 0, false
	}
	prefix, digits, _ := strings.Cut(id, "-")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return prefix, n, true
}
