package app

import (
	"time"

	"meeting-scribe/internal/cluster"
	"meeting-scribe/internal/history"
	"meeting-scribe/internal/models"
)

// clusterStore adapts the history store to the clusterer's persistence
// interface, stamping embeddings with their ingestion day.
type clusterStore struct {
	h         *history.Store
	algorithm string
}

func (s clusterStore) SaveEmbedding(ev models.EmbeddingVector) error {
	return s.h.SaveEmbedding(history.DayKey(time.Now()), s.algorithm, ev)
}

func (s clusterStore) Assign(segmentID uint64, speakerID string) error {
	return s.h.Assign(segmentID, speakerID)
}

func (s clusterStore) AssignBatch(assignments []models.ClusterAssignment) error {
	return s.h.AssignBatch(assignments)
}

func (s clusterStore) SaveIdentity(id cluster.Identity) error {
	return s.h.UpsertSpeaker(history.SpeakerRecord{
		ID:           id.ID,
		DisplayName:  id.DisplayName,
		DefaultName:  id.DefaultName,
		CreatedAt:    id.CreatedAt,
		LastMappedAt: id.LastMappedAt,
	})
}

// seedClusterer restores the clusterer from persistence, limited to the
// clustering window.
func seedClusterer(c *cluster.Clusterer, h *history.Store, algorithm string, windowDays int) error {
	speakers, err := h.Speakers()
	if err != nil {
		return err
	}
	identities := make([]cluster.Identity, 0, len(speakers))
	for _, sp := range speakers {
		identities = append(identities, cluster.Identity{
			ID:           sp.ID,
			DisplayName:  sp.DisplayName,
			DefaultName:  sp.DefaultName,
			CreatedAt:    sp.CreatedAt,
			LastMappedAt: sp.LastMappedAt,
		})
	}

	fromDay := history.DayKey(time.Now().AddDate(0, 0, -windowDays))
	stored, err := h.Embeddings(algorithm, fromDay)
	if err != nil {
		return err
	}
	members := make([]cluster.SeedMember, 0, len(stored))
	for _, se := range stored {
		members = append(members, cluster.SeedMember{
			SegmentID: se.SegmentID,
			DeviceID:  se.DeviceID,
			Vector:    se.Vector,
			SpeakerID: se.SpeakerID,
		})
	}
	return c.Seed(members, identities)
}
