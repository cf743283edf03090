package fetcher

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrServerBusy  = errors.New("server busy")
	ErrNotFound    = errors.New("not found")
	ErrBlocked     = errors.New("blocked by anti-bot challenge")
)

type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindPermanent
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindPermanent:
		return "permanent"
	case KindBlocked:
		return "blocked"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FetchError is returned once a URL could not be fetched. Transient errors
// are only surfaced after the retry budget is spent.
type FetchError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Transient() bool {
	return e.Kind == KindTransient
}

// KindOf reports the kind of a FetchError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
