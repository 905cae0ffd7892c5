package vm

import "fmt"

// Status says why Interpret returned.
type Status uint8

const (
	Completed Status = iota // a return unwound past the marker frame
	Suspended               // a collaborator asked the thread to pause
	Stopped                 // a collaborator asked the thread to stop
	Threw                   // a guest exception was raised
	Faulted                 // an internal error aborted interpretation
)

var statusNames = [...]string{
	Completed: "completed",
	Suspended: "suspended",
	Stopped:   "stopped",
	Threw:     "threw",
	Faulted:   "faulted",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Outcome is the result of one Interpret call. Value is set when Completed;
// Err holds a *GuestError when Threw and an *InternalError when Faulted.
type Outcome struct {
	Status Status
	Value  Value
	Err    error
}

func (o Outcome) String() string {
	switch o.Status {
	case Completed:
		return fmt.Sprintf("completed: %s", o.Value)
	case Threw, Faulted:
		return fmt.Sprintf("%s: %v", o.Status, o.Err)
	}
	return o.Status.String()
}
