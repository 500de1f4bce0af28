package multipart

import "fmt"

// resultSet owns the ordered result slots of one upload. Only the collecting goroutine writes it.
type resultSet struct {
	slots  []Headers
	filled []bool
}

func newResultSet(parts int) *resultSet {
	return &resultSet{
		slots:  make([]Headers, parts),
		filled: make([]bool, parts),
	}
}

// collect drains results in arrival order until the channel is closed.
func (s *resultSet) collect(results <-chan chunkResult) {
	for result := range results {
		if result.part < 0 || result.part >= len(s.slots) || s.filled[result.part] {
			continue
		}
		s.slots[result.part] = result.headers
		s.filled[result.part] = true
	}
}

// headers returns the slots in part order, failing if any part is missing.
func (s *resultSet) headers() ([]Headers, error) {
	for part, ok := range s.filled {
		if !ok {
			return nil, fmt.Errorf("%w: no result for part %d", ErrTaskFailure, part)
		}
	}
	return s.slots, nil
}
