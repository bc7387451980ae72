package netmon

// StaticSource is a ConnectivitySource that never reports link changes.
// Desktop builds use it; the wired link is assumed up and reachability is
// established by probing alone.
type StaticSource struct {
	ch chan Connectivity
}

// NewStaticSource returns a source that emits the given connectivity once
// and then stays silent.
func NewStaticSource(c Connectivity) *StaticSource {
	ch := make(chan Connectivity, 1)
	ch <- c
	return &StaticSource{ch: ch}
}

func (s *StaticSource) Events() <-chan Connectivity {
	return s.ch
}
