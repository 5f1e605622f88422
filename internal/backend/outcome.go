package backend

import (
	"strconv"

	"github.com/phuslu/log"
)

type Kind int

const (
	Success Kind = iota
	Unauthorized
	TransientFailure
	PermanentFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Unauthorized:
		return "unauthorized"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Outcome is what a send resolved to. Status is the HTTP status code when a
// response was received, zero otherwise.
type Outcome struct {
	Kind   Kind
	Status int
	Reason string
}

func (o Outcome) MarshalObject(e *log.Entry) {
	e.Str("outcome", o.Kind.String()).Int("status", o.Status)
	if o.Reason != "" {
		e.Str("reason", o.Reason)
	}
}

// Classify maps an HTTP status code to an outcome kind.
func Classify(status int) Kind {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == 401:
		return Unauthorized
	default:
		return TransientFailure
	}
}
