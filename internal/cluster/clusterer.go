// Package cluster groups speaker embeddings into persistent identities.
//
// Ingestion is two-tier: a fast path assigns an embedding immediately
// when it falls within the assignment radius of exactly one known
// centroid, and a periodic density re-cluster pass over the whole
// population corrects the fast path's mistakes. The re-cluster runs off
// the ingest path; embeddings arriving while it runs are held and
// reconciled when it commits.
package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-scribe/internal/config"
	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
	"meeting-scribe/internal/observability/metrics"
)

// ErrDimension reports an embedding whose dimensionality does not match
// the configured algorithm. This is a deployment error (wrong backend
// paired with wrong algorithm), not a per-segment failure.
var ErrDimension = errors.New("cluster: embedding dimension mismatch")

// ErrUnknownSpeaker reports an operation on a speaker id that does not
// exist.
var ErrUnknownSpeaker = errors.New("cluster: unknown speaker")

// Store persists the clusterer's state. Implemented by the history
// store through a thin adapter.
type Store interface {
	SaveEmbedding(ev models.EmbeddingVector) error
	Assign(segmentID uint64, speakerID string) error
	AssignBatch(assignments []models.ClusterAssignment) error
	SaveIdentity(id Identity) error
}

// member is one embedding in the population.
type member struct {
	segmentID uint64
	deviceID  string
	vector    []float32
	speakerID string // empty when unassigned
}

// SeedMember restores one population member from persistence.
type SeedMember struct {
	SegmentID uint64
	DeviceID  string
	Vector    []float32
	SpeakerID string
}

// Clusterer maintains the embedding population and speaker identities.
type Clusterer struct {
	params    config.AlgorithmParams
	batchSize int
	maxHeld   int
	dist      Metric
	store     Store
	metrics   *metrics.Metrics
	log       zerolog.Logger

	// onReassign is invoked after a re-cluster pass commits, with the
	// assignments that changed. Called without the lock held.
	onReassign func([]models.ClusterAssignment)

	mu           sync.Mutex
	population   []member
	seen         map[uint64]bool
	identities   map[string]*identity
	ordinal      int
	pending      int
	reclustering bool
	held         []models.EmbeddingVector

	now func() time.Time
}

// New builds a clusterer for the configured algorithm.
func New(params config.AlgorithmParams, batchSize, maxHeld int, store Store, onReassign func([]models.ClusterAssignment), m *metrics.Metrics) (*Clusterer, error) {
	dist, err := MetricByName(params.Metric)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.Default
	}
	return &Clusterer{
		params:     params,
		batchSize:  batchSize,
		maxHeld:    maxHeld,
		dist:       dist,
		store:      store,
		metrics:    m,
		log:        logging.WithComponent("cluster"),
		onReassign: onReassign,
		seen:       make(map[uint64]bool),
		identities: make(map[string]*identity),
		ordinal:    1,
		now:        time.Now,
	}, nil
}

// Seed restores the population and identities from persistence. Must be
// called before ingestion starts.
func (c *Clusterer) Seed(members []SeedMember, identities []Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range identities {
		c.identities[rec.ID] = &identity{
			Identity: rec,
			members:  make(map[uint64]struct{}),
		}
		c.ordinal++
	}
	for _, sm := range members {
		if len(sm.Vector) != c.params.Dim {
			return fmt.Errorf("%w: stored segment %d has dim %d, configured %d",
				ErrDimension, sm.SegmentID, len(sm.Vector), c.params.Dim)
		}
		c.population = append(c.population, member{
			segmentID: sm.SegmentID,
			deviceID:  sm.DeviceID,
			vector:    sm.Vector,
			speakerID: sm.SpeakerID,
		})
		c.seen[sm.SegmentID] = true
		if id, ok := c.identities[sm.SpeakerID]; ok {
			id.members[sm.SegmentID] = struct{}{}
			id.SegmentCount = len(id.members)
		}
	}
	// Centroids are not persisted; rebuild them from the members.
	for _, id := range c.identities {
		var vecs [][]float32
		for _, m := range c.population {
			if _, ok := id.members[m.segmentID]; ok {
				vecs = append(vecs, m.vector)
			}
		}
		id.centroid = centroidOf(vecs)
	}
	c.metrics.SpeakersKnown.Set(float64(len(c.identities)))
	c.log.Info().Int("population", len(c.population)).Int("speakers", len(c.identities)).Msg("seeded from history")
	return nil
}

// OnEmbedding ingests one embedding result. Failed results are dropped.
// A segment id already in the population is a no-op, so redelivery is
// safe. Returns ErrDimension when the vector does not match the
// configured algorithm.
func (c *Clusterer) OnEmbedding(ev models.EmbeddingVector) error {
	if ev.Failed || len(ev.Vector) == 0 {
		return nil
	}
	if len(ev.Vector) != c.params.Dim {
		return fmt.Errorf("%w: got %d, configured %d", ErrDimension, len(ev.Vector), c.params.Dim)
	}

	c.mu.Lock()
	if c.seen[ev.SegmentID] {
		c.mu.Unlock()
		return nil
	}
	c.seen[ev.SegmentID] = true

	if c.reclustering {
		if len(c.held) >= c.maxHeld {
			dropped := c.held[0]
			c.held = c.held[1:]
			delete(c.seen, dropped.SegmentID)
			c.log.Warn().Uint64("segment_id", dropped.SegmentID).Msg("held queue full, dropping oldest embedding")
		}
		c.held = append(c.held, ev)
		c.mu.Unlock()
		return nil
	}

	assigned := c.ingestLocked(ev)
	snapshot := c.maybeStartReclusterLocked()
	c.mu.Unlock()

	if assigned != "" && c.onReassign != nil {
		c.onReassign([]models.ClusterAssignment{{SegmentID: ev.SegmentID, SpeakerID: assigned}})
	}
	if snapshot != nil {
		go c.recluster(snapshot)
	}
	return nil
}

// ingestLocked adds the embedding to the population and tries the
// centroid fast path, returning the assigned speaker id or "". Caller
// holds c.mu.
func (c *Clusterer) ingestLocked(ev models.EmbeddingVector) string {
	m := member{segmentID: ev.SegmentID, deviceID: ev.DeviceID, vector: ev.Vector}

	if err := c.store.SaveEmbedding(ev); err != nil {
		c.log.Error().Err(err).Uint64("segment_id", ev.SegmentID).Msg("persist embedding")
	}

	var match *identity
	matches := 0
	for _, id := range c.identities {
		if id.centroid == nil {
			continue
		}
		if c.dist(id.centroid, ev.Vector) <= c.params.Radius {
			match = id
			matches++
		}
	}

	if matches == 1 {
		m.speakerID = match.ID
		match.addMember(ev.SegmentID, ev.Vector, c.now())
		if err := c.store.Assign(ev.SegmentID, match.ID); err != nil {
			c.log.Error().Err(err).Uint64("segment_id", ev.SegmentID).Msg("persist assignment")
		}
		if err := c.store.SaveIdentity(match.Identity); err != nil {
			c.log.Error().Err(err).Str("speaker_id", match.ID).Msg("persist identity")
		}
		c.metrics.FastPathAssigned.Inc()
	} else {
		// Zero candidates or an ambiguous match both defer to the next
		// re-cluster pass.
		c.pending++
	}

	c.population = append(c.population, m)
	c.metrics.EmbeddingsIngested.Inc()
	c.updateNoiseGaugeLocked()
	return m.speakerID
}

// maybeStartReclusterLocked arms a re-cluster pass when enough
// unassigned embeddings have accumulated. Returns the population
// snapshot to cluster, or nil. Caller holds c.mu.
func (c *Clusterer) maybeStartReclusterLocked() []member {
	if c.reclustering || c.pending < c.batchSize {
		return nil
	}
	c.reclustering = true
	snapshot := make([]member, len(c.population))
	copy(snapshot, c.population)
	return snapshot
}

// recluster runs DBSCAN over the snapshot and commits the result.
func (c *Clusterer) recluster(snapshot []member) {
	start := c.now()

	vectors := make([][]float32, len(snapshot))
	for i, m := range snapshot {
		vectors[i] = m.vector
	}
	labels := DBSCAN(vectors, c.params.Eps, c.params.MinPts, c.dist)

	// Group members per cluster label.
	groups := make(map[int][]int)
	for i, lbl := range labels {
		if lbl != Noise {
			groups[lbl] = append(groups[lbl], i)
		}
	}

	c.commit(snapshot, groups)

	c.metrics.ReclusterRuns.Inc()
	c.metrics.ReclusterDuration.Observe(c.now().Sub(start).Seconds())
}

// commit maps clusters onto identities and applies the new assignments
// atomically.
func (c *Clusterer) commit(snapshot []member, groups map[int][]int) {
	c.mu.Lock()

	now := c.now()

	// Deterministic order: largest cluster first so it gets first claim
	// on a contested identity, ties broken by label.
	order := make([]int, 0, len(groups))
	for lbl := range groups {
		order = append(order, lbl)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if len(groups[a]) != len(groups[b]) {
			return len(groups[a]) > len(groups[b])
		}
		return a < b
	})

	claimed := make(map[string]bool)
	newAssign := make(map[uint64]string, len(snapshot))
	var touched []*identity

	for _, lbl := range order {
		idxs := groups[lbl]
		memberSet := make(map[uint64]struct{}, len(idxs))
		vecs := make([][]float32, 0, len(idxs))
		for _, i := range idxs {
			memberSet[snapshot[i].segmentID] = struct{}{}
			vecs = append(vecs, snapshot[i].vector)
		}

		id := c.inheritLocked(memberSet, claimed)
		if id == nil {
			id = newIdentity(c.ordinal, now)
			c.ordinal++
			c.identities[id.ID] = id
			c.log.Info().Str("speaker_id", id.ID).Str("name", id.DisplayName).
				Int("members", len(memberSet)).Msg("new speaker")
		}
		claimed[id.ID] = true
		id.setMembers(memberSet, centroidOf(vecs), now)
		touched = append(touched, id)

		for seg := range memberSet {
			newAssign[seg] = id.ID
		}
	}

	// Identities that kept no cluster lose their members but remain on
	// record; transcripts may still reference them by name.
	for _, id := range c.identities {
		if !claimed[id.ID] && len(id.members) > 0 {
			id.setMembers(make(map[uint64]struct{}), nil, id.LastMappedAt)
			touched = append(touched, id)
		}
	}

	// Apply to the live population and collect what changed. Members
	// labeled noise go back to unassigned.
	inSnapshot := make(map[uint64]bool, len(snapshot))
	for _, m := range snapshot {
		inSnapshot[m.segmentID] = true
	}
	var changed []models.ClusterAssignment
	for i := range c.population {
		m := &c.population[i]
		if !inSnapshot[m.segmentID] {
			continue
		}
		next := newAssign[m.segmentID]
		if next != m.speakerID {
			m.speakerID = next
			changed = append(changed, models.ClusterAssignment{SegmentID: m.segmentID, SpeakerID: next})
		}
	}

	if len(changed) > 0 {
		if err := c.store.AssignBatch(changed); err != nil {
			c.log.Error().Err(err).Int("count", len(changed)).Msg("persist reassignments")
		}
	}
	for _, id := range touched {
		if err := c.store.SaveIdentity(id.Identity); err != nil {
			c.log.Error().Err(err).Str("speaker_id", id.ID).Msg("persist identity")
		}
	}

	c.pending = 0
	c.reclustering = false
	c.metrics.SpeakersKnown.Set(float64(len(c.identities)))
	c.updateNoiseGaugeLocked()

	// Reconcile arrivals held during the pass. They may arm the next
	// pass immediately.
	held := c.held
	c.held = nil
	for _, ev := range held {
		if sp := c.ingestLocked(ev); sp != "" {
			changed = append(changed, models.ClusterAssignment{SegmentID: ev.SegmentID, SpeakerID: sp})
		}
	}
	snapshotNext := c.maybeStartReclusterLocked()

	c.log.Info().Int("clusters", len(groups)).Int("reassigned", len(changed)).
		Int("reconciled", len(held)).Msg("re-cluster pass committed")
	c.mu.Unlock()

	if len(changed) > 0 && c.onReassign != nil {
		c.onReassign(changed)
	}
	if snapshotNext != nil {
		go c.recluster(snapshotNext)
	}
}

// inheritLocked finds the existing identity this cluster continues: the
// unclaimed identity sharing the most members (at least MinInherit),
// oldest first on ties. Caller holds c.mu.
func (c *Clusterer) inheritLocked(memberSet map[uint64]struct{}, claimed map[string]bool) *identity {
	var best *identity
	bestOverlap := 0
	for _, id := range c.identities {
		if claimed[id.ID] {
			continue
		}
		overlap := 0
		for seg := range memberSet {
			if _, ok := id.members[seg]; ok {
				overlap++
			}
		}
		if overlap < c.params.MinInherit {
			continue
		}
		if overlap > bestOverlap ||
			(overlap == bestOverlap && best != nil && id.CreatedAt.Before(best.CreatedAt)) {
			best = id
			bestOverlap = overlap
		}
	}
	return best
}

func (c *Clusterer) updateNoiseGaugeLocked() {
	noise := 0
	for _, m := range c.population {
		if m.speakerID == "" {
			noise++
		}
	}
	c.metrics.NoiseEmbeddings.Set(float64(noise))
}

// Identities returns a snapshot of all known speakers, oldest first.
func (c *Clusterer) Identities() []Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Identity, 0, len(c.identities))
	for _, id := range c.identities {
		out = append(out, id.Identity)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DisplayName resolves a speaker id to its current name, or "" when the
// id is unknown or empty.
func (c *Clusterer) DisplayName(speakerID string) string {
	if speakerID == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.identities[speakerID]; ok {
		return id.DisplayName
	}
	return ""
}

// Rename gives a speaker a user-chosen name. Takes effect immediately
// for live views; summaries already written keep the name they froze.
func (c *Clusterer) Rename(speakerID, name string) error {
	if name == "" {
		return errors.New("cluster: empty name")
	}
	c.mu.Lock()
	id, ok := c.identities[speakerID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, speakerID)
	}
	id.DisplayName = name
	id.DefaultName = false
	rec := id.Identity
	c.mu.Unlock()

	if err := c.store.SaveIdentity(rec); err != nil {
		return fmt.Errorf("persist rename: %w", err)
	}
	c.log.Info().Str("speaker_id", speakerID).Str("name", name).Msg("speaker renamed")
	return nil
}

// SegmentsFor returns the segment ids currently assigned to a speaker,
// ascending.
func (c *Clusterer) SegmentsFor(speakerID string) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.identities[speakerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpeaker, speakerID)
	}
	out := make([]uint64, 0, len(id.members))
	for seg := range id.members {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
