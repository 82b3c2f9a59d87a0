package gate

import (
	"errors"
	"fmt"
)

// ErrUnauthorized matches every *Denial with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Stage names the check that refused a request.
type Stage string

const (
	StageSubject Stage = "subject" // no subject, or no profile for it
	StageProfile Stage = "profile"
	StagePolicy  Stage = "policy"
)

// Denial is returned by Gate.Authorize.
type Denial struct {
	Stage    Stage
	Resource string
	Action   Action
}

func (d *Denial) Error() string {
	return fmt.Sprintf("unauthorized: %s denied %s:%s", d.Stage, d.Resource, d.Action)
}

func (d *Denial) Is(target error) bool { return target == ErrUnauthorized }
