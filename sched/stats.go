package sched

// TaskStats is a counter snapshot for one task.
type TaskStats struct {
	Name      string `json:"name"`
	Priority  uint8  `json:"prio"`
	Queued    int    `json:"queued"`
	Runs      uint32 `json:"runs"`
	QueueFull uint32 `json:"queue_full"`
}

// LineStats is a counter snapshot for one interrupt line.
type LineStats struct {
	Name     string `json:"name"`
	Priority uint8  `json:"prio"`
	Raises   uint32 `json:"raises"`
	Runs     uint32 `json:"runs"`
	Drops    uint32 `json:"drops"`
}

// Stats is a point-in-time view of every counter in the dispatcher.
type Stats struct {
	Tasks []TaskStats `json:"tasks"`
	Lines []LineStats `json:"lines"`
}

// Stats snapshots the dispatcher counters. Safe from any goroutine after Start.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Tasks: make([]TaskStats, 0, len(d.tasks)),
		Lines: make([]LineStats, 0, len(d.lines)),
	}
	for _, t := range d.tasks {
		st := d.cs.enter()
		q := t.queued
		d.cs.exit(st)
		s.Tasks = append(s.Tasks, TaskStats{
			Name:      t.name,
			Priority:  uint8(t.prio),
			Queued:    q,
			Runs:      t.runs.Load(),
			QueueFull: t.full.Load(),
		})
	}
	for _, l := range d.lines {
		s.Lines = append(s.Lines, LineStats{
			Name:     l.name,
			Priority: uint8(l.prio),
			Raises:   l.raises.Load(),
			Runs:     l.runs.Load(),
			Drops:    l.drops.Load(),
		})
	}
	return s
}

// Dropped sums queue-full rejections over all tasks. Line drops are already
// included since they are rejections seen by a front-end.
func (s Stats) Dropped() uint32 {
	var n uint32
	for _, t := range s.Tasks {
		n += t.QueueFull
	}
	return n
}
