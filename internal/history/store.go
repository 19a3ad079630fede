// Package history persists per-day transcripts, summaries, speaker
// identities, and the embedding population in SQLite. Entries and
// summaries are append-only; segment-to-speaker assignments are the one
// revisable relation, because a re-cluster pass may move segments
// between speakers.
package history

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"meeting-scribe/internal/models"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// SpeakerRecord is the persisted form of a speaker identity. Identities
// are stored once and referenced by id, never duplicated per entry.
type SpeakerRecord struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	DefaultName  bool      `json:"defaultName"`
	CreatedAt    time.Time `json:"createdAt"`
	LastMappedAt time.Time `json:"lastMappedAt"`
}

// StoredEmbedding is one persisted population member with its current
// assignment.
type StoredEmbedding struct {
	SegmentID uint64
	Day       int
	DeviceID  string
	Vector    []float32
	SpeakerID string // empty when unassigned (noise)
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	day        INTEGER NOT NULL,
	segment_id INTEGER NOT NULL UNIQUE,
	text       TEXT NOT NULL,
	ts         REAL NOT NULL,
	failed     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entries_day ON entries(day);

CREATE TABLE IF NOT EXISTS summaries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	day          INTEGER NOT NULL,
	range_start  REAL NOT NULL,
	range_end    REAL NOT NULL,
	text         TEXT NOT NULL,
	action_items TEXT NOT NULL DEFAULT '[]',
	created_at   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_day ON summaries(day);

CREATE TABLE IF NOT EXISTS speakers (
	id             TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL,
	default_name   INTEGER NOT NULL DEFAULT 1,
	created_at     REAL NOT NULL,
	last_mapped_at REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assignments (
	segment_id INTEGER PRIMARY KEY,
	speaker_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	segment_id INTEGER PRIMARY KEY,
	day        INTEGER NOT NULL,
	device_id  TEXT NOT NULL DEFAULT '',
	algorithm  TEXT NOT NULL,
	dim        INTEGER NOT NULL,
	vector     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_day ON embeddings(day);
`

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DayKey maps a time to the calendar-day index (YYYYMMDD, local time).
func DayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// AppendEntry appends one transcript entry to its calendar day.
func (s *Store) AppendEntry(e models.TranscriptEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (day, segment_id, text, ts, failed)
		VALUES (?, ?, ?, ?, ?)
	`, DayKey(e.Timestamp), e.SegmentID, e.Text, unixF(e.Timestamp), boolInt(e.Failed))
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// Entries returns the day's transcript in timestamp order, with each
// entry's current speaker assignment joined in.
func (s *Store) Entries(day int) ([]models.TranscriptEntry, error) {
	rows, err := s.db.Query(`
		SELECT e.segment_id, e.text, e.ts, e.failed, COALESCE(a.speaker_id, '')
		FROM entries e
		LEFT JOIN assignments a ON a.segment_id = e.segment_id
		WHERE e.day = ?
		ORDER BY e.ts ASC, e.seq ASC
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.TranscriptEntry
	for rows.Next() {
		var e models.TranscriptEntry
		var ts float64
		var failed int
		if err := rows.Scan(&e.SegmentID, &e.Text, &ts, &failed, &e.SpeakerID); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Timestamp = timeFromUnix(ts)
		e.Failed = failed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendSummary appends one generated summary to its calendar day.
// Summaries are immutable once written.
func (s *Store) AppendSummary(sum models.Summary) error {
	items, err := json.Marshal(sum.ActionItems)
	if err != nil {
		return fmt.Errorf("marshal action items: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO summaries (day, range_start, range_end, text, action_items, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, DayKey(sum.RangeStart), unixF(sum.RangeStart), unixF(sum.RangeEnd),
		sum.Text, string(items), unixF(sum.CreatedAt))
	if err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// Summaries returns the day's summaries in range order.
func (s *Store) Summaries(day int) ([]models.Summary, error) {
	rows, err := s.db.Query(`
		SELECT range_start, range_end, text, action_items, created_at
		FROM summaries
		WHERE day = ?
		ORDER BY range_start ASC
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var sums []models.Summary
	for rows.Next() {
		var sum models.Summary
		var start, end, created float64
		var items string
		if err := rows.Scan(&start, &end, &sum.Text, &items, &created); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.RangeStart = timeFromUnix(start)
		sum.RangeEnd = timeFromUnix(end)
		sum.CreatedAt = timeFromUnix(created)
		if err := json.Unmarshal([]byte(items), &sum.ActionItems); err != nil {
			return nil, fmt.Errorf("unmarshal action items: %w", err)
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// Days returns every day that has transcript entries, newest first.
func (s *Store) Days() ([]int, error) {
	rows, err := s.db.Query(`SELECT DISTINCT day FROM entries ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("query days: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// UpsertSpeaker writes or refreshes one speaker identity record.
func (s *Store) UpsertSpeaker(sp SpeakerRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO speakers (id, display_name, default_name, created_at, last_mapped_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			default_name = excluded.default_name,
			last_mapped_at = excluded.last_mapped_at
	`, sp.ID, sp.DisplayName, boolInt(sp.DefaultName), unixF(sp.CreatedAt), unixF(sp.LastMappedAt))
	if err != nil {
		return fmt.Errorf("upsert speaker: %w", err)
	}
	return nil
}

// Speakers returns every known speaker identity.
func (s *Store) Speakers() ([]SpeakerRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, display_name, default_name, created_at, last_mapped_at
		FROM speakers
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query speakers: %w", err)
	}
	defer rows.Close()

	var speakers []SpeakerRecord
	for rows.Next() {
		var sp SpeakerRecord
		var defaultName int
		var created, mapped float64
		if err := rows.Scan(&sp.ID, &sp.DisplayName, &defaultName, &created, &mapped); err != nil {
			return nil, fmt.Errorf("scan speaker: %w", err)
		}
		sp.DefaultName = defaultName != 0
		sp.CreatedAt = timeFromUnix(created)
		sp.LastMappedAt = timeFromUnix(mapped)
		speakers = append(speakers, sp)
	}
	return speakers, rows.Err()
}

// SaveEmbedding persists one population member. Duplicate delivery for a
// segment id is a no-op, matching the clusterer's idempotence contract.
func (s *Store) SaveEmbedding(day int, algorithm string, ev models.EmbeddingVector) error {
	_, err := s.db.Exec(`
		INSERT INTO embeddings (segment_id, day, device_id, algorithm, dim, vector)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO NOTHING
	`, ev.SegmentID, day, ev.DeviceID, algorithm, len(ev.Vector), encodeVector(ev.Vector))
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// Assign records or revises one segment's speaker assignment.
func (s *Store) Assign(segmentID uint64, speakerID string) error {
	_, err := s.db.Exec(`
		INSERT INTO assignments (segment_id, speaker_id) VALUES (?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET speaker_id = excluded.speaker_id
	`, segmentID, speakerID)
	if err != nil {
		return fmt.Errorf("assign segment: %w", err)
	}
	return nil
}

// AssignBatch commits a re-cluster pass's reassignments as a whole.
func (s *Store) AssignBatch(assignments []models.ClusterAssignment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin assignment batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO assignments (segment_id, speaker_id) VALUES (?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET speaker_id = excluded.speaker_id
	`)
	if err != nil {
		return fmt.Errorf("prepare assignment batch: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.Exec(a.SegmentID, a.SpeakerID); err != nil {
			return fmt.Errorf("assign segment %d: %w", a.SegmentID, err)
		}
	}
	return tx.Commit()
}

// Embeddings loads the population for one algorithm from fromDay onward
// (inclusive), with current assignments joined in. Embeddings stored
// under a different algorithm are skipped: vectors across algorithms are
// not comparable.
func (s *Store) Embeddings(algorithm string, fromDay int) ([]StoredEmbedding, error) {
	rows, err := s.db.Query(`
		SELECT e.segment_id, e.day, e.device_id, e.vector, COALESCE(a.speaker_id, '')
		FROM embeddings e
		LEFT JOIN assignments a ON a.segment_id = e.segment_id
		WHERE e.algorithm = ? AND e.day >= ?
		ORDER BY e.segment_id ASC
	`, algorithm, fromDay)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []StoredEmbedding
	for rows.Next() {
		var se StoredEmbedding
		var blob []byte
		if err := rows.Scan(&se.SegmentID, &se.Day, &se.DeviceID, &blob, &se.SpeakerID); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		se.Vector = decodeVector(blob)
		out = append(out, se)
	}
	return out, rows.Err()
}

// StoredDim returns the dimensionality of the stored population for the
// algorithm, or 0 when none is stored yet. Used to detect mismatched
// embedding configuration at startup.
func (s *Store) StoredDim(algorithm string) (int, error) {
	row := s.db.QueryRow(`SELECT dim FROM embeddings WHERE algorithm = ? LIMIT 1`, algorithm)
	var dim int
	if err := row.Scan(&dim); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("query stored dim: %w", err)
	}
	return dim, nil
}

// MaxSegmentID returns the highest segment id ever persisted, or 0 for
// an empty store. The id generator is seeded past it on startup so
// restarted pipelines never reissue a stored id.
func (s *Store) MaxSegmentID() (uint64, error) {
	row := s.db.QueryRow(`
		SELECT MAX(m) FROM (
			SELECT COALESCE(MAX(segment_id), 0) AS m FROM entries
			UNION ALL
			SELECT COALESCE(MAX(segment_id), 0) FROM embeddings
		)
	`)
	var max uint64
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("query max segment id: %w", err)
	}
	return max, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func unixF(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func timeFromUnix(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
