// Package ids issues the ULIDs used for connection sessions and journal rows.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// source is shared by every caller. Monotonic entropy makes ids minted within
// the same millisecond still sort in issue order, which journal queries rely
// on when they order rows by id. ulid.MonotonicEntropy is not safe for
// concurrent use, hence the mutex.
var source = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)}

// New returns a ULID stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t. Ids from one process sort in issue
// order as long as t does not go backwards.
func NewAt(t time.Time) string {
	source.Lock()
	defer source.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), source.entropy).String()
}

// Time recovers the millisecond timestamp encoded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
