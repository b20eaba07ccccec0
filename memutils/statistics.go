package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarises the memory owned by one allocator layer and how much
// of it is currently handed out.
type Statistics struct {
	// FrameCount is the number of granules owned by the layer
	FrameCount int
	// FrameBytes is FrameCount in bytes
	FrameBytes int
	// AllocationCount is the number of live allocations
	AllocationCount int
	// AllocationBytes is the number of bytes held by live allocations
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.FrameCount = 0
	s.FrameBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.FrameCount += other.FrameCount
	s.FrameBytes += other.FrameBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
}

// JsonData writes the statistics as fields of an open json object
func (s *Statistics) JsonData(json *jwriter.ObjectState) {
	json.Name("FrameCount").Int(s.FrameCount)
	json.Name("FrameBytes").Int(s.FrameBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
}

// DetailedStatistics extends Statistics with the spread of free block sizes.
type DetailedStatistics struct {
	Statistics
	FreeBlockCount   int
	FreeBytes        int
	FreeBlockSizeMin int
	FreeBlockSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.FreeBytes = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBytes += size

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBytes += other.FreeBytes

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}
}

func (s *DetailedStatistics) JsonData(json *jwriter.ObjectState) {
	s.Statistics.JsonData(json)
	json.Name("FreeBlockCount").Int(s.FreeBlockCount)
	json.Name("FreeBytes").Int(s.FreeBytes)
	if s.FreeBlockCount > 0 {
		json.Name("FreeBlockSizeMin").Int(s.FreeBlockSizeMin)
		json.Name("FreeBlockSizeMax").Int(s.FreeBlockSizeMax)
	}
}
