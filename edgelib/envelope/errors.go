package envelope

import "fmt"

type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
