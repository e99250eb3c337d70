package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind classifies what a strategy wants executed.
type ActionKind string

const (
	ActionEcho ActionKind = "echo"
	ActionBuy  ActionKind = "buy"
	ActionSell ActionKind = "sell"
)

// Action is a strategy decision handed to executors.
type Action struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Strategy  string     `json:"strategy" gorm:"index"`
	Source    Source     `json:"source" gorm:"type:text"`
	Kind      ActionKind `json:"kind" gorm:"type:text"`
	Message   string     `json:"message"`
	Price     float64    `json:"price"`
	RSI       float64    `json:"rsi"`
	NATR      float64    `json:"natr"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewAction builds an action from a complete price snapshot.
func NewAction(strategy string, kind ActionKind, p PriceData, msg string) Action {
	return Action{
		ID:        uuid.New(),
		Strategy:  strategy,
		Source:    p.Source,
		Kind:      kind,
		Message:   msg,
		Price:     p.Price.Value,
		RSI:       p.RSI.Value,
		NATR:      p.NATR.Value,
		CreatedAt: time.Now().UTC(),
	}
}
