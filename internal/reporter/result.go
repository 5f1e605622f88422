package reporter

import (
	"errors"
	"strconv"
	"time"

	"github.com/phuslu/log"
)

var (
	ErrReauthRequired = errors.New("token expired, please re-authenticate")
	ErrRejected       = errors.New("backend rejected refreshed token")
	ErrTransient      = errors.New("transient send failure")
	ErrPermanent      = errors.New("report cannot be sent")
)

type Outcome int

const (
	LoggedOut Outcome = iota
	Unavailable
	Delivered
	TransientFailure
	PermanentFailure
	RefreshFailed
	Rejected
	StoreFailure
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case LoggedOut:
		return "logged_out"
	case Unavailable:
		return "unavailable"
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	case RefreshFailed:
		return "refresh_failed"
	case Rejected:
		return "rejected"
	case StoreFailure:
		return "store_failure"
	case Cancelled:
		return "cancelled"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is the terminal record of one reporting cycle.
type Result struct {
	ID        string    `json:"id"`
	Outcome   Outcome   `json:"outcome"`
	Place     string    `json:"place"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Status    int       `json:"status,omitempty"`
	Sends     int       `json:"sends"`
	Refreshes int       `json:"refreshes"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	hasFix    bool
}

func (r Result) MarshalObject(e *log.Entry) {
	e.Str("cycle_id", r.ID).
		Str("outcome", r.Outcome.String()).
		Str("place", r.Place).
		Int("sends", r.Sends).
		Int("refreshes", r.Refreshes)
	if r.Status != 0 {
		e.Int("status", r.Status)
	}
	if r.Err != nil {
		e.Err(r.Err)
	}
}
