// Package strategy holds the strategies evaluated on every orchestrator tick.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
)

// PriceInput is a complete composite snapshot: one state output per engine.
type PriceInput struct {
	Engines []string
	Outputs map[string]models.StateOutput
}

// Prices returns every complete price across engines, in engine order.
func (in PriceInput) Prices() []models.PriceData {
	var out []models.PriceData
	for _, name := range in.Engines {
		out = append(out, in.Outputs[name].Complete()...)
	}
	return out
}

// PriceInputBuilder collects engine responses for one tick.
type PriceInputBuilder struct {
	engines []string
	slots   map[string]models.StateOutput
}

var _ pipeline.InputBuilder[models.StateOutput, PriceInput] = (*PriceInputBuilder)(nil)

// NewPriceInputBuilder creates a builder with one empty slot per engine.
func NewPriceInputBuilder(engines []string) *PriceInputBuilder {
	names := make([]string, len(engines))
	copy(names, engines)
	return &PriceInputBuilder{engines: names, slots: make(map[string]models.StateOutput, len(engines))}
}

// Insert fills the slot of engine. Responses of unregistered engines and
// responses without any complete price are ignored.
func (b *PriceInputBuilder) Insert(engine string, data models.StateOutput) {
	if !b.registered(engine) || !data.Available() {
		return
	}
	b.slots[engine] = data
}

func (b *PriceInputBuilder) registered(engine string) bool {
	for _, name := range b.engines {
		if name == engine {
			return true
		}
	}
	return false
}

// Build returns the input or ErrIncompleteInput naming the empty slots.
func (b *PriceInputBuilder) Build() (PriceInput, error) {
	var missing []string
	for _, name := range b.engines {
		if _, ok := b.slots[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return PriceInput{}, fmt.Errorf("%w: missing %s", pipeline.ErrIncompleteInput, strings.Join(missing, ", "))
	}
	outputs := make(map[string]models.StateOutput, len(b.slots))
	for k, v := range b.slots {
		outputs[k] = v
	}
	return PriceInput{Engines: b.engines, Outputs: outputs}, nil
}
