package orchestrator

import "TradePipe/internal/domain/models"

// Status is a snapshot of the running pipeline.
type Status struct {
	Strategy   string            `json:"strategy"`
	Engines    []EngineStatus    `json:"engines"`
	Collectors []CollectorStatus `json:"collectors"`
	Executors  []ExecutorStatus  `json:"executors"`
	Ticks      TickStatus        `json:"ticks"`
}

type EngineStatus struct {
	Name      string          `json:"name"`
	State     string          `json:"state"`
	Available bool            `json:"available"`
	Sources   []models.Source `json:"sources"`
	Processed uint64          `json:"events_processed"`
	Failed    uint64          `json:"events_failed"`
	Answered  uint64          `json:"queries_answered"`
}

type CollectorStatus struct {
	Name   string        `json:"name"`
	Source models.Source `json:"source"`
	State  string        `json:"state"`
	Events uint64        `json:"events"`
}

type ExecutorStatus struct {
	Name      string `json:"name"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

type TickStatus struct {
	Total      uint64 `json:"total"`
	Incomplete uint64 `json:"incomplete"`
	Actions    uint64 `json:"actions_dispatched"`
}

func (o *Orchestrator[D, I, A]) status(engines []*engineRunner[D], collectors []*collectorRunner, tk *ticker[D, I, A]) Status {
	st := Status{
		Strategy:   o.strategy.Name(),
		Engines:    make([]EngineStatus, 0, len(engines)),
		Collectors: make([]CollectorStatus, 0, len(collectors)),
		Executors:  make([]ExecutorStatus, 0, len(tk.executors)),
		Ticks: TickStatus{
			Total:      tk.ticks.Load(),
			Incomplete: tk.incomplete.Load(),
			Actions:    tk.actions.Load(),
		},
	}
	for _, r := range engines {
		state := EngineState(r.state.Load())
		st.Engines = append(st.Engines, EngineStatus{
			Name:      r.name,
			State:     state.String(),
			Available: !r.unavailable.Load() && state == EngineRunning,
			Sources:   r.sources,
			Processed: r.processed.Load(),
			Failed:    r.failed.Load(),
			Answered:  r.answered.Load(),
		})
	}
	for _, c := range collectors {
		st.Collectors = append(st.Collectors, CollectorStatus{
			Name:   c.collector.Name(),
			Source: c.collector.Source(),
			State:  CollectorState(c.state.Load()).String(),
			Events: c.events.Load(),
		})
	}
	for _, x := range tk.executors {
		st.Executors = append(st.Executors, ExecutorStatus{
			Name:      x.executor.Name(),
			Succeeded: x.succeeded.Load(),
			Failed:    x.failed.Load(),
		})
	}
	return st
}
