package procpool

// liveSet holds the processes spawned and not yet reaped.
// Lookups by pid and removals by position are O(1).
type liveSet struct {
	procs []*Process
	index map[int]int
}

func newLiveSet(capacity int) *liveSet {
	return &liveSet{
		procs: make([]*Process, 0, capacity),
		index: make(map[int]int, capacity),
	}
}

func (s *liveSet) len() int {
	return len(s.procs)
}

func (s *liveSet) at(i int) *Process {
	return s.procs[i]
}

func (s *liveSet) add(p *Process) {
	s.index[p.Pid] = len(s.procs)
	s.procs = append(s.procs, p)
}

func (s *liveSet) lookup(pid int) (int, bool) {
	i, ok := s.index[pid]
	return i, ok
}

// remove takes the process at position i out of the set. The last process
// is moved into the hole, so positions are not stable across removals.
func (s *liveSet) remove(i int) *Process {
	p := s.procs[i]
	last := len(s.procs) - 1
	if i != last {
		s.procs[i] = s.procs[last]
		s.index[s.procs[i].Pid] = i
	}
	s.procs[last] = nil
	s.procs = s.procs[:last]
	delete(s.index, p.Pid)
	return p
}

// retain keeps the processes for which keep returns true, preserving
// their relative order.
func (s *liveSet) retain(keep func(*Process) bool) {
	n := 0
	for _, p := range s.procs {
		if keep(p) {
			s.procs[n] = p
			s.index[p.Pid] = n
			n++
		} else {
			delete(s.index, p.Pid)
		}
	}
	clear(s.procs[n:])
	s.procs = s.procs[:n]
}
