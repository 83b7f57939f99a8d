package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// Step is one unit of a workflow definition. It names the executor to run,
// the capability to invoke on it, the configuration keys the step provides,
// and how long the executor may take.
type Step struct {
	ExecutorID     string
	CapabilityType string
	Requirements   []string
	Timeout        time.Duration
}

// stepJSON is the wire form of Step; the timeout travels as milliseconds.
type stepJSON struct {
	ExecutorID     string   `json:"executor_id"`
	CapabilityType string   `json:"capability_type"`
	Requirements   []string `json:"requirements"`
	TimeoutMS      int64    `json:"timeout_ms"`
}

// MarshalJSON implements json.Marshaler.
func (s Step) MarshalJSON() ([]byte, error) {
	req := s.Requirements
	if req == nil {
		req = []string{}
	}
	return json.Marshal(stepJSON{
		ExecutorID:     s.ExecutorID,
		CapabilityType: s.CapabilityType,
		Requirements:   req,
		TimeoutMS:      s.Timeout.Milliseconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ExecutorID = w.ExecutorID
	s.CapabilityType = w.CapabilityType
	s.Requirements = w.Requirements
	s.Timeout = time.Duration(w.TimeoutMS) * time.Millisecond
	return nil
}

// Definition is an immutable, named, ordered list of steps.
type Definition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() Definition {
	c := *d
	c.Steps = CloneSteps(d.Steps)
	return c
}

// CloneSteps deep-copies a step slice, including each requirement list.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.Requirements != nil {
			s.Requirements = append([]string(nil), s.Requirements...)
		}
		out[i] = s
	}
	return out
}
