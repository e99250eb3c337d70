package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrConnection   = errors.New("connection error")
	ErrMessageParse = errors.New("message parse error")
	ErrStateUpdate  = errors.New("state update error")
	ErrExecution    = errors.New("execution error")

	ErrQuery            = errors.New("query error")
	ErrQueryTimeout     = fmt.Errorf("%w: timed out", ErrQuery)
	ErrResponseDropped  = fmt.Errorf("%w: response dropped", ErrQuery)
	ErrEngineTerminated = fmt.Errorf("%w: engine terminated", ErrQuery)

	ErrIncompleteInput = errors.New("incomplete strategy input")

	ErrAlreadyResponded = errors.New("one-shot already responded")
	ErrOneShotClosed    = errors.New("one-shot closed")
)
