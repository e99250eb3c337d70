package executor

import (
	"context"

	"TradePipe/internal/domain/models"
	"TradePipe/pkg/logger"
)

const LogName = "log_executor"

// Log writes every action to the structured log.
type Log struct {
	log *logger.Logger
}

var _ ActionExecutor = (*Log)(nil)

func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Nop()
	}
	return &Log{log: log.Named(LogName)}
}

func (e *Log) Name() string { return LogName }

func (e *Log) Execute(_ context.Context, a models.Action) error {
	e.log.Info(a.Message,
		logger.String("id", a.ID.String()),
		logger.String("strategy", a.Strategy),
		logger.String("source", a.Source.String()),
		logger.String("kind", string(a.Kind)),
		logger.Float64("price", a.Price),
		logger.Float64("rsi", a.RSI),
		logger.Float64("natr", a.NATR),
	)
	return nil
}
