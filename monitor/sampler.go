package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/montanaflynn/stats"
	"lautenbacher.net/regbus/registry"
	"lautenbacher.net/regbus/util"
)

// BulkReader is the part of the registry the sampler needs.
type BulkReader interface {
	BulkRead(h registry.Handle, addr byte, length int) ([]byte, error)
}

// Window is a run of consecutive registers polled with a single bulk read.
type Window struct {
	Device  string
	Handle  registry.Handle
	Address byte
	Length  int
}

// Key names one register of one device.
type Key struct {
	Device  string
	Address byte
}

// RegisterStats summarises the recorded history of one register.
type RegisterStats struct {
	Key
	Last    byte
	Samples int
	Min     float64
	Max     float64
	Mean    float64
	Median  float64
	StdDev  float64
}

// Snapshot is the state of the sampler after one polling round.
type Snapshot struct {
	Registers []RegisterStats
	Errors    map[string]int
}

// Sampler polls register windows and keeps a bounded history per register.
type Sampler struct {
	reader  BulkReader
	windows []Window
	history int

	mu     sync.Mutex
	values map[Key]*deque.Deque[byte]
	errors map[string]int
}

func NewSampler(reader BulkReader, windows []Window, history int) *Sampler {
	if history < 1 {
		history = 1
	}
	s := &Sampler{
		reader:  reader,
		windows: windows,
		history: history,
		values:  make(map[Key]*deque.Deque[byte]),
		errors:  make(map[string]int),
	}
	for _, w := range windows {
		for i := 0; i < w.Length; i++ {
			q := new(deque.Deque[byte])
			q.Grow(history)
			s.values[w.key(i)] = q
		}
	}
	return s
}

func (w Window) key(i int) Key {
	return Key{Device: w.Device, Address: byte(int(w.Address)+i) & 0x7f}
}

// Poll reads every window once. Failed reads are counted per device and
// leave the history untouched.
func (s *Sampler) Poll() {
	for _, w := range s.windows {
		data, err := s.reader.BulkRead(w.Handle, w.Address, w.Length)

		s.mu.Lock()
		if err != nil {
			s.errors[w.Device]++
			s.mu.Unlock()
			slog.Debug("Monitor read failed", "device", w.Device, "error", err)
			continue
		}
		for i, v := range data {
			q := s.values[w.key(i)]
			if q.Len() == s.history {
				q.PopFront()
			}
			q.PushBack(v)
		}
		s.mu.Unlock()
	}
}

// Run polls every delay until stop is closed and publishes a snapshot
// after each round.
func (s *Sampler) Run(delay time.Duration, stop <-chan struct{}, wg *sync.WaitGroup, out *util.Latest[Snapshot]) {
	defer wg.Done()
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			slog.Info("Ending register sampler...")
			return
		case <-ticker.C:
			s.Poll()
			out.Send(s.Snapshot())
		}
	}
}

func (s *Sampler) Snapshot() Snapshot {
	return Snapshot{Registers: s.Summary(), Errors: s.Errors()}
}

// Errors returns the number of failed reads per device.
func (s *Sampler) Errors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make(map[string]int, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	return errs
}

// Summary returns the statistics of all registers ordered by device and
// address. Registers without samples are reported with zero values.
func (s *Sampler) Summary() []RegisterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RegisterStats, 0, len(s.values))
	for key, q := range s.values {
		out = append(out, summarise(key, q))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func summarise(key Key, q *deque.Deque[byte]) RegisterStats {
	rs := RegisterStats{Key: key, Samples: q.Len()}
	if q.Len() == 0 {
		return rs
	}
	data := make(stats.Float64Data, q.Len())
	for i := range q.Len() {
		data[i] = float64(q.At(i))
	}
	rs.Last = q.Back()
	// The stats functions only fail on empty input.
	rs.Min, _ = data.Min()
	rs.Max, _ = data.Max()
	rs.Mean, _ = data.Mean()
	rs.Median, _ = data.Median()
	rs.StdDev, _ = data.StandardDeviation()
	return rs
}
