// Package executor holds the side effects actions can trigger.
package executor

import (
	"fmt"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
)

// ActionExecutor is the executor shape used by the price pipeline.
type ActionExecutor = pipeline.Executor[models.Action]

func failed(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", pipeline.ErrExecution, name, err)
}
