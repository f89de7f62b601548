package status

import "errors"

var (
	ErrFetchTimeout   = errors.New("fetch: upstream did not answer in time")
	ErrLoginFailed    = errors.New("login: upstream rejected credentials")
	ErrQueueNotFound  = errors.New("queue: queue not found")
	ErrEntryNotFound  = errors.New("entry: entry not found")
	ErrUnexpectedPage = errors.New("fetch: unexpected page layout")
)
