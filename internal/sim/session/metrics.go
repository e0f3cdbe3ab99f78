package session

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

type Metrics struct {
	Generation  uint64      `json:"generation"`
	Slots       int         `json:"slots"`
	Occupied    int         `json:"occupied"`
	Clients     int         `json:"clients"`
	Events      uint64      `json:"events"`
	State       string      `json:"state"`
	QueueDepths QueueDepths `json:"queue_depths"`
}

// Metrics is safe to call from any goroutine. It is refreshed on every session tick.
func (s *Session) Metrics() Metrics {
	if s == nil {
		return Metrics{}
	}
	m, _ := s.metrics.Load().(Metrics)
	return m
}

func (s *Session) publishMetrics() {
	reg := s.manager.Registry()
	s.metrics.Store(Metrics{
		Generation: reg.Generation(),
		Slots:      reg.Len(),
		Occupied:   reg.OccupiedCount(),
		Clients:    len(s.clients),
		Events:     s.bus.Seq(),
		State:      s.manager.State().String(),
		QueueDepths: QueueDepths{
			Inbox: len(s.inbox),
			Join:  len(s.join),
			Leave: len(s.leave),
		},
	})
}
