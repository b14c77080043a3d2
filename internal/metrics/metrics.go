// Package metrics accumulates per-phase training statistics and fans scalar
// summaries out to loggers.
package metrics

import (
	"fmt"
	"time"
)

// ScalarLogger records one scalar of a named series at a step.
type ScalarLogger interface {
	ScalarSummary(tag string, value float64, step int) error
}

// Multi forwards every summary to each logger and returns the first error.
type Multi []ScalarLogger

// ScalarSummary implements ScalarLogger.
func (m Multi) ScalarSummary(tag string, value float64, step int) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.ScalarSummary(tag, value, step); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PhaseStats is the running state of one pass over a partition.
type PhaseStats struct {
	RunningLoss float64
	Correct     int
	Total       int
	Batches     int
	Elapsed     time.Duration
}

// Add records one batch with its summed-over-batch mean loss.
func (s *PhaseStats) Add(loss float64, correct, total int, elapsed time.Duration) {
	s.RunningLoss += loss
	s.Correct += correct
	s.Total += total
	s.Batches++
	s.Elapsed += elapsed
}

// Loss returns the mean batch loss, 0 before the first batch.
func (s *PhaseStats) Loss() float64 {
	if s.Batches == 0 {
		return 0
	}
	return s.RunningLoss / float64(s.Batches)
}

// Accuracy returns Correct/Total, 0 before the first sample.
func (s *PhaseStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Reset clears the stats for the next phase.
func (s *PhaseStats) Reset() {
	*s = PhaseStats{}
}

// Log writes the "loss: " and "accuracy: " scalars of the phase at step.
func (s *PhaseStats) Log(logger ScalarLogger, step int) error {
	if logger == nil {
		return nil
	}
	if err := logger.ScalarSummary("loss: ", s.Loss(), step); err != nil {
		return err
	}
	return logger.ScalarSummary("accuracy: ", s.Accuracy(), step)
}

// CountCorrect returns how many predicted classes equal their label.
func CountCorrect(predicted []int, labels []int64) int {
	n := 0
	for i, p := range predicted {
		if int64(p) == labels[i] {
			n++
		}
	}
	return n
}

// ClassTally counts correct predictions per class.
type ClassTally struct {
	classes []string
	correct []int
	total   []int
}

// NewClassTally creates a tally for the named classes.
func NewClassTally(classes []string) *ClassTally {
	return &ClassTally{
		classes: append([]string(nil), classes...),
		correct: make([]int, len(classes)),
		total:   make([]int, len(classes)),
	}
}

// Add records a batch of predictions. Labels outside the class range panic.
func (c *ClassTally) Add(predicted []int, labels []int64) {
	for i, label := range labels {
		c.total[label]++
		if int64(predicted[i]) == label {
			c.correct[label]++
		}
	}
}

// ClassAccuracy is one row of the per-class table.
type ClassAccuracy struct {
	Class   string
	Correct int
	Total   int
}

// Percent returns 100·Correct/Total. A class without samples reports 0.
func (a ClassAccuracy) Percent() float64 {
	if a.Total == 0 {
		return 0
	}
	return 100 * float64(a.Correct) / float64(a.Total)
}

// Defined reports whether the class had any samples.
func (a ClassAccuracy) Defined() bool {
	return a.Total > 0
}

// String formats the row as "Accuracy of <class> : <pct> %".
func (a ClassAccuracy) String() string {
	return fmt.Sprintf("Accuracy of %5s : %2d %%", a.Class, int(a.Percent()))
}

// Rows returns one row per class in class order.
func (c *ClassTally) Rows() []ClassAccuracy {
	rows := make([]ClassAccuracy, len(c.classes))
	for i, name := range c.classes {
		rows[i] = ClassAccuracy{Class: name, Correct: c.correct[i], Total: c.total[i]}
	}
	return rows
}
