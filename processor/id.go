package processor

import "github.com/oklog/ulid/v2"

// NewRunID returns a fresh run id. Ids are ULIDs and sort by creation time,
// including ids made within the same millisecond.
func NewRunID() string {
	return ulid.Make().String()
}
