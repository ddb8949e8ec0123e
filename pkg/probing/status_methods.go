package probing

import "time"

func (s *status) recordFailure(err error) {
	s.mu.Lock()

	s.total++
	s.loss++
	s.health = false
	s.err = err

	s.mu.Unlock()
}

func (s *status) reset() {
	s.mu.Lock()

	s.total = 0
	s.loss = 0
	s.health = false
	s.err = nil
	s.srtt = 0
	s.clockDiff = 0

	s.mu.Unlock()
}

func (s *status) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *status) Loss() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loss
}

func (s *status) Health() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *status) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *status) SRTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srtt
}

func (s *status) ClockDiff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockDiff
}

func (s *status) StopNotify() <-chan struct{} {
	return s.stopc
}
