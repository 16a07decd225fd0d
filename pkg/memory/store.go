package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/zhy0216/toolbox/pkg/types"
)

const tagSeparator = "\x1f"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	content       TEXT NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS memory_tags (
	memory_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	tag       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);
CREATE INDEX IF NOT EXISTS idx_memory_tags_memory_id ON memory_tags(memory_id);
`

// Memory is one stored item. Score is filled in by Recall.
type Memory struct {
	ID           int64          `json:"id"`
	Content      string         `json:"content"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	AccessCount  int            `json:"access_count"`
	Score        float64        `json:"score,omitempty"`
}

func (m *Memory) hasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Query selects memories for Recall. Empty Text and Tags match everything.
type Query struct {
	Text        string
	Tags        []string
	Limit       int
	UseLongTerm bool
}

// TagCount is one entry of a summary's tag ranking.
type TagCount struct {
	Tag   string
	Count int
}

// Summary describes the memories stored over a time window.
type Summary struct {
	Days     int
	Total    int
	Earliest time.Time
	Latest   time.Time
	TopTags  []TagCount
}

// Store keeps recent memories in process and every memory in SQLite.
// The short-term list is a bounded FIFO; the database is the source of
// truth for forget and summarize.
type Store struct {
	db       *sql.DB
	log      logrus.FieldLogger
	capacity int
	now      func() time.Time

	mu        sync.Mutex
	shortTerm []*Memory
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithCapacity overrides the short-term capacity.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// dsn builds a modernc sqlite connection string for file.
func dsn(file string) string {
	params := make(url.Values)
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	return "file:" + file + "?" + params.Encode()
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create memory directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// One connection serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize memory schema: %w", err)
	}

	s := &Store{
		db:       db,
		log:      logrus.StandardLogger(),
		capacity: types.ShortTermCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ShortTermLen reports how many memories are held in process.
func (s *Store) ShortTermLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shortTerm)
}

// Add stores content in both tiers and returns the new memory.
func (s *Store) Add(ctx context.Context, content string, tags []string, metadata map[string]any) (*Memory, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("cannot encode metadata: %w", err)
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO memories (content, metadata, created_at, last_accessed, access_count) VALUES (?, ?, ?, ?, 1)`,
		content, string(meta), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory id: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return nil, fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit memory: %w", err)
	}

	m := &Memory{
		ID:           id,
		Content:      content,
		Tags:         append([]string(nil), tags...),
		Metadata:     metadata,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
	}

	s.mu.Lock()
	s.shortTerm = append(s.shortTerm, m)
	if len(s.shortTerm) > s.capacity {
		s.shortTerm = s.shortTerm[len(s.shortTerm)-s.capacity:]
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"memory_id": id, "tags": len(tags)}).Debug("memory stored")
	return m, nil
}

// Recall searches short-term memory first and tops up from long-term
// memory when fewer than q.Limit matches were found. Every returned memory
// has its access count bumped.
func (s *Store) Recall(ctx context.Context, q Query) ([]*Memory, error) {
	if q.Limit <= 0 {
		q.Limit = 5
	}
	now := s.now()

	s.mu.Lock()
	results := s.searchShortTerm(q, now)
	s.mu.Unlock()

	if len(results) >= q.Limit {
		results = results[:q.Limit]
	} else if q.UseLongTerm {
		seen := make(map[int64]bool, len(results))
		for _, m := range results {
			seen[m.ID] = true
		}
		long, err := s.searchLongTerm(ctx, q, seen, q.Limit-len(results), now)
		if err != nil {
			return nil, err
		}
		results = append(results, long...)
	}

	if err := s.touch(ctx, results, now); err != nil {
		return nil, err
	}
	return results, nil
}

// searchShortTerm returns scored copies of matching short-term memories,
// best first. Caller holds s.mu.
func (s *Store) searchShortTerm(q Query, now time.Time) []*Memory {
	needle := strings.ToLower(q.Text)
	var out []*Memory
	for _, m := range s.shortTerm {
		if needle != "" && !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		if len(q.Tags) > 0 && !m.hasAnyTag(q.Tags) {
			continue
		}
		dup := *m
		dup.Score = ShortTermScore(m.CreatedAt, m.AccessCount, now)
		out = append(out, &dup)
	}
	sortByScore(out)
	return out
}

func (s *Store) searchLongTerm(ctx context.Context, q Query, exclude map[int64]bool, limit int, now time.Time) ([]*Memory, error) {
	query := `SELECT m.id, m.content, m.metadata, m.created_at, m.last_accessed, m.access_count,
		COALESCE((SELECT group_concat(t.tag, '` + tagSeparator + `') FROM memory_tags t WHERE t.memory_id = m.id), '')
		FROM memories m`
	var where []string
	var args []any
	if q.Text != "" {
		where = append(where, "m.content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.Text)+"%")
	}
	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tags)), ",")
		where = append(where, "EXISTS (SELECT 1 FROM memory_tags t WHERE t.memory_id = m.id AND t.tag IN ("+placeholders+"))")
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search long-term memory: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if exclude[m.ID] {
			continue
		}
		m.Score = LongTermScore(m.LastAccessed, m.AccessCount, now)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read long-term memory: %w", err)
	}

	sortByScore(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// touch bumps access counters in both tiers.
func (s *Store) touch(ctx context.Context, results []*Memory, now time.Time) error {
	if len(results) == 0 {
		return nil
	}
	ids := make(map[int64]bool, len(results))
	for _, m := range results {
		ids[m.ID] = true
		if _, err := s.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			now.UnixNano(), m.ID); err != nil {
			return fmt.Errorf("failed to update access count: %w", err)
		}
	}

	s.mu.Lock()
	for _, m := range s.shortTerm {
		if ids[m.ID] {
			m.AccessCount++
			m.LastAccessed = now
		}
	}
	s.mu.Unlock()
	return nil
}

// ForgetByID removes one memory. Returns the number of rows removed.
func (s *Store) ForgetByID(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	kept := s.shortTerm[:0]
	for _, m := range s.shortTerm {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	s.shortTerm = kept
	s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to forget memory %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ForgetOlderThan removes memories created more than age ago.
func (s *Store) ForgetOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	kept := s.shortTerm[:0]
	for _, m := range s.shortTerm {
		if m.CreatedAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	s.shortTerm = kept
	s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to forget old memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Summarize reports totals, time span, and the five most used tags of the
// memories created in the last days days, optionally restricted to tags.
func (s *Store) Summarize(ctx context.Context, tags []string, days int) (Summary, error) {
	summary := Summary{Days: days}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour).UnixNano()

	where := "m.created_at > ?"
	args := []any{cutoff}
	if len(tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		where += " AND EXISTS (SELECT 1 FROM memory_tags t WHERE t.memory_id = m.id AND t.tag IN (" + placeholders + "))"
		for _, tag := range tags {
			args = append(args, tag)
		}
	}

	var earliest, latest sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(m.created_at), MAX(m.created_at) FROM memories m WHERE `+where, args...)
	if err := row.Scan(&summary.Total, &earliest, &latest); err != nil {
		return summary, fmt.Errorf("failed to summarize memories: %w", err)
	}
	if summary.Total == 0 {
		return summary, nil
	}
	summary.Earliest = time.Unix(0, earliest.Int64)
	summary.Latest = time.Unix(0, latest.Int64)

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.tag, COUNT(*) AS n FROM memory_tags t JOIN memories m ON t.memory_id = m.id
		WHERE `+where+` GROUP BY t.tag ORDER BY n DESC, t.tag ASC LIMIT 5`, args...)
	if err != nil {
		return summary, fmt.Errorf("failed to rank tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return summary, fmt.Errorf("failed to read tag ranking: %w", err)
		}
		summary.TopTags = append(summary.TopTags, tc)
	}
	return summary, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*Memory, error) {
	var (
		m                 Memory
		meta, tags        string
		created, accessed int64
	)
	if err := row.Scan(&m.ID, &m.Content, &meta, &created, &accessed, &m.AccessCount, &tags); err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	m.CreatedAt = time.Unix(0, created)
	m.LastAccessed = time.Unix(0, accessed)
	if tags != "" {
		m.Tags = strings.Split(tags, tagSeparator)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("malformed metadata on memory %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortByScore(ms []*Memory) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Score > ms[j].Score })
}
