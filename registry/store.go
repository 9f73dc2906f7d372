package registry

import (
	"sort"
	"sync"
)

// idSet is a set of agent ids.
type idSet map[string]struct{}

// RecordStore is the in-process keyed store of agent records plus the three
// secondary indexes used by discovery. A single lock covers records and
// indexes so no reader ever observes a partially rebuilt index.
type RecordStore struct {
	mu sync.RWMutex

	// records stores agent records by id.
	records map[string]*AgentRecord

	// capabilityIndex maps capability name -> agent id set.
	capabilityIndex map[string]idSet

	// typeIndex maps agent type -> agent id set.
	typeIndex map[string]idSet

	// regionIndex maps region -> agent id set.
	regionIndex map[string]idSet
}

// NewRecordStore creates an empty record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records:         make(map[string]*AgentRecord),
		capabilityIndex: make(map[string]idSet),
		typeIndex:       make(map[string]idSet),
		regionIndex:     make(map[string]idSet),
	}
}

// UpsertWith stores the record and rebuilds all three indexes for it in
// one atomic step. The previous index entries for the same id are removed
// first, so capability, type, and region changes never leave stale keys.
// When the id already exists, merge(existing, record) runs under the same
// write-lock acquisition, so fields carried over from the existing record
// cannot be clobbered by a mutation landing between read and write. It
// reports whether an existing record was replaced.
func (s *RecordStore) UpsertWith(record *AgentRecord, merge func(existing, record *AgentRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[record.AgentID]
	if existed {
		merge(prev, record)
		s.unindexLocked(prev)
	}
	s.records[record.AgentID] = record
	s.indexLocked(record)
	return existed
}

// Delete removes the record and purges it from every index. It reports
// whether the id was present.
func (s *RecordStore) Delete(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[agentID]
	if !ok {
		return false
	}
	s.unindexLocked(record)
	delete(s.records, agentID)
	return true
}

// Get returns a copy of the record, or false when the id is unknown.
func (s *RecordStore) Get(agentID string) (*AgentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[agentID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns copies of all records ordered by agent id.
func (s *RecordStore) List() []*AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AgentRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Mutate applies fn to the stored record under the write lock. It reports
// false when the id is unknown. fn must not retain the record.
func (s *RecordStore) Mutate(agentID string, fn func(*AgentRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[agentID]
	if !ok {
		return false
	}
	fn(record)
	return true
}

// Select returns copies of the records matching the query filters. The
// candidate set is computed by intersecting the index sets of every
// supplied filter, starting from the smallest set so cost is proportional
// to the smallest index, not to total agent count.
func (s *RecordStore) Select(query DiscoverQuery) []*AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sets := s.filterSetsLocked(query)

	var candidates []string
	if len(sets) == 0 {
		// No filters: the full id set is the candidate set.
		candidates = make([]string, 0, len(s.records))
		for id := range s.records {
			candidates = append(candidates, id)
		}
	} else {
		sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
		smallest := sets[0]
		candidates = make([]string, 0, len(smallest))
	next:
		for id := range smallest {
			for _, other := range sets[1:] {
				if _, ok := other[id]; !ok {
					continue next
				}
			}
			candidates = append(candidates, id)
		}
	}

	out := make([]*AgentRecord, 0, len(candidates))
	for _, id := range candidates {
		if record, ok := s.records[id]; ok {
			out = append(out, record.Clone())
		}
	}
	return out
}

// filterSetsLocked collects the index sets for every supplied filter. A
// filter value absent from its index contributes an empty set, which makes
// the intersection empty.
func (s *RecordStore) filterSetsLocked(query DiscoverQuery) []idSet {
	var sets []idSet
	for _, cap := range query.Capabilities {
		set := s.capabilityIndex[cap]
		if set == nil {
			set = idSet{}
		}
		sets = append(sets, set)
	}
	if query.AgentType != "" {
		set := s.typeIndex[query.AgentType]
		if set == nil {
			set = idSet{}
		}
		sets = append(sets, set)
	}
	if query.Region != "" {
		set := s.regionIndex[query.Region]
		if set == nil {
			set = idSet{}
		}
		sets = append(sets, set)
	}
	return sets
}

func (s *RecordStore) indexLocked(record *AgentRecord) {
	for _, cap := range record.Capabilities {
		if s.capabilityIndex[cap] == nil {
			s.capabilityIndex[cap] = idSet{}
		}
		s.capabilityIndex[cap][record.AgentID] = struct{}{}
	}
	if record.AgentType != "" {
		if s.typeIndex[record.AgentType] == nil {
			s.typeIndex[record.AgentType] = idSet{}
		}
		s.typeIndex[record.AgentType][record.AgentID] = struct{}{}
	}
	if record.Region != "" {
		if s.regionIndex[record.Region] == nil {
			s.regionIndex[record.Region] = idSet{}
		}
		s.regionIndex[record.Region][record.AgentID] = struct{}{}
	}
}

func (s *RecordStore) unindexLocked(record *AgentRecord) {
	for _, cap := range record.Capabilities {
		removeFromIndex(s.capabilityIndex, cap, record.AgentID)
	}
	removeFromIndex(s.typeIndex, record.AgentType, record.AgentID)
	removeFromIndex(s.regionIndex, record.Region, record.AgentID)
}

func removeFromIndex(index map[string]idSet, key, agentID string) {
	if set, ok := index[key]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
