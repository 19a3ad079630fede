package cluster

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identity is one recognized speaker. DisplayName starts as an
// auto-assigned "Speaker N" until a user renames it; DefaultName tracks
// which it is so the UI can prompt for real names.
type Identity struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	DefaultName  bool      `json:"defaultName"`
	CreatedAt    time.Time `json:"createdAt"`
	LastMappedAt time.Time `json:"lastMappedAt"`
	SegmentCount int       `json:"segmentCount"`
}

// identity is the mutable in-memory form behind the clusterer's lock.
type identity struct {
	Identity
	centroid []float32
	members  map[uint64]struct{}
}

func newIdentity(ordinal int, now time.Time) *identity {
	return &identity{
		Identity: Identity{
			ID:          uuid.NewString(),
			DisplayName: fmt.Sprintf("Speaker %d", ordinal),
			DefaultName: true,
			CreatedAt:   now,
		},
		members: make(map[uint64]struct{}),
	}
}

// addMember folds one vector into the running centroid.
func (id *identity) addMember(segmentID uint64, vec []float32, now time.Time) {
	if _, ok := id.members[segmentID]; ok {
		return
	}
	id.members[segmentID] = struct{}{}
	n := float32(len(id.members))
	if id.centroid == nil {
		id.centroid = make([]float32, len(vec))
	}
	for i := range id.centroid {
		id.centroid[i] += (vec[i] - id.centroid[i]) / n
	}
	id.LastMappedAt = now
	id.SegmentCount = len(id.members)
}

// setMembers replaces the member set and centroid wholesale, used when
// a re-cluster pass recomputes the identity's cluster.
func (id *identity) setMembers(members map[uint64]struct{}, centroid []float32, now time.Time) {
	id.members = members
	id.centroid = centroid
	id.LastMappedAt = now
	id.SegmentCount = len(members)
}

func centroidOf(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	c := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range c {
			c[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range c {
		c[i] /= n
	}
	return c
}
