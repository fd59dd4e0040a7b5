// Package docid generates the random identifiers the system needs: a
// document's "_id" when the caller omits one, and transaction ids.
package docid

import "github.com/google/uuid"

// New returns a fresh random UUID as a string.
func New() string {
	return uuid.NewString()
}
