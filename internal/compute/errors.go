package compute

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures coming out of a Service.
type Kind int

const (
	Unknown Kind = iota
	AuthFailure
	ProvisionFailure
	ExecutionFailure
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "AuthFailure"
	case ProvisionFailure:
		return "ProvisionFailure"
	case ExecutionFailure:
		return "ExecutionFailure"
	default:
		return "Unknown"
	}
}

// Error is a classified failure of a compute operation.
type Error struct {
	Kind Kind
	Op   string
	// Nodes lists the ids of the nodes the failure applies to, if any.
	Nodes []string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op
	if len(e.Nodes) > 0 {
		msg = fmt.Sprintf("%s on nodes [%s]", msg, strings.Join(e.Nodes, ", "))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind. A nil err stays nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}
