package store

import (
	"fmt"

	"github.com/cacophony-project/cacophony-api/pkg/auth"
)

// deviceVisibility builds the predicate restricting device rows to those
// the caller may see: the device's group is one the user belongs to, or
// the user has a direct device association. Returns an always-true
// predicate for global-read holders. argIndex is the next free
// placeholder number; the returned args must be appended in order.
func deviceVisibility(alias string, authz auth.Authorization, argIndex int) (string, []interface{}) {
	if authz.CanReadAll() {
		return "TRUE", nil
	}
	clause := fmt.Sprintf(
		`(%[1]s.group_id IN (SELECT group_id FROM group_users WHERE user_id = $%[2]d)
		 OR %[1]s.id IN (SELECT device_id FROM device_users WHERE user_id = $%[3]d))`,
		alias, argIndex, argIndex+1,
	)
	return clause, []interface{}{authz.UserID, authz.UserID}
}

// groupVisibility builds the predicate restricting group rows to groups
// the caller is a member of
func groupVisibility(alias string, authz auth.Authorization, argIndex int) (string, []interface{}) {
	if authz.CanReadAll() {
		return "TRUE", nil
	}
	clause := fmt.Sprintf(
		"%s.id IN (SELECT group_id FROM group_users WHERE user_id = $%d)",
		alias, argIndex,
	)
	return clause, []interface{}{authz.UserID}
}

// normalizePage clamps limit and offset to sane bounds
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
