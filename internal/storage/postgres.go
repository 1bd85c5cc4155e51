package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/gtm/internal/config"
	"github.com/your-org/gtm/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Collections ---

func (s *PostgresStore) CreateCollection(ctx context.Context, name, description string) (*models.Collection, error) {
	c := &models.Collection{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO collections (id, name, description) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Description,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]models.Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, created_at, updated_at FROM collections ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var collections []models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	return collections, nil
}

func (s *PostgresStore) GetCollection(ctx context.Context, id uuid.UUID) (*models.Collection, error) {
	c := &models.Collection{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at, updated_at FROM collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

// --- Identities ---

func (s *PostgresStore) CreateIdentity(ctx context.Context, collectionID uuid.UUID, name string, metadata json.RawMessage) (*models.Identity, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	p := &models.Identity{
		ID:           uuid.New(),
		CollectionID: collectionID,
		Name:         name,
		Metadata:     metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, collection_id, name, metadata) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		p.ID, p.CollectionID, p.Name, p.Metadata,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	p := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, collection_id, name, metadata, created_at, updated_at FROM identities WHERE id = $1`, id,
	).Scan(&p.ID, &p.CollectionID, &p.Name, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context, collectionID *uuid.UUID) ([]models.Identity, error) {
	var rows pgx.Rows
	var err error
	if collectionID != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT id, collection_id, name, metadata, created_at, updated_at FROM identities WHERE collection_id = $1 ORDER BY created_at DESC`,
			*collectionID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, collection_id, name, metadata, created_at, updated_at FROM identities ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		var p models.Identity
		if err := rows.Scan(&p.ID, &p.CollectionID, &p.Name, &p.Metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, p)
	}
	return identities, nil
}

func (s *PostgresStore) CountGalleryEmbeddings(ctx context.Context, identityID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM gallery_embeddings WHERE identity_id = $1`, identityID,
	).Scan(&count)
	return count, err
}

// --- Gallery Embeddings ---

func (s *PostgresStore) AddGalleryEmbedding(ctx context.Context, identityID uuid.UUID, embedding []float32, quality float32, sourceKey string) (*models.GalleryEmbedding, error) {
	ge := &models.GalleryEmbedding{
		ID:         uuid.New(),
		IdentityID: identityID,
		Embedding:  embedding,
		Quality:    quality,
		SourceKey:  sourceKey,
	}
	vec := pgvector.NewVector(embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO gallery_embeddings (id, identity_id, embedding, quality, source_key) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		ge.ID, ge.IdentityID, vec, ge.Quality, ge.SourceKey,
	).Scan(&ge.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add gallery embedding: %w", err)
	}
	return ge, nil
}

func (s *PostgresStore) DeleteGalleryEmbedding(ctx context.Context, identityID, embeddingID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gallery_embeddings WHERE id = $1 AND identity_id = $2`, embeddingID, identityID)
	if err != nil {
		return fmt.Errorf("delete gallery embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gallery embedding not found")
	}
	return nil
}

func (s *PostgresStore) ListGalleryEmbeddings(ctx context.Context, identityID uuid.UUID) ([]models.GalleryEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_id, quality, source_key, created_at FROM gallery_embeddings WHERE identity_id = $1 ORDER BY created_at DESC`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("list gallery embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []models.GalleryEmbedding
	for rows.Next() {
		var ge models.GalleryEmbedding
		if err := rows.Scan(&ge.ID, &ge.IdentityID, &ge.Quality, &ge.SourceKey, &ge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gallery embedding: %w", err)
		}
		embeddings = append(embeddings, ge)
	}
	return embeddings, nil
}

// SearchGallery finds the closest matching identities for a given embedding.
func (s *PostgresStore) SearchGallery(ctx context.Context, embedding []float32, collectionID *uuid.UUID, threshold float64, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	var query string
	var args []interface{}

	if collectionID != nil {
		query = `
			SELECT ge.identity_id, i.name, 1 - (ge.embedding <=> $1) AS score
			FROM gallery_embeddings ge
			JOIN identities i ON i.id = ge.identity_id
			WHERE i.collection_id = $2
			  AND 1 - (ge.embedding <=> $1) >= $3
			ORDER BY ge.embedding <=> $1
			LIMIT $4`
		args = []interface{}{vec, *collectionID, threshold, limit}
	} else {
		query = `
			SELECT ge.identity_id, i.name, 1 - (ge.embedding <=> $1) AS score
			FROM gallery_embeddings ge
			JOIN identities i ON i.id = ge.identity_id
			WHERE 1 - (ge.embedding <=> $1) >= $2
			ORDER BY ge.embedding <=> $1
			LIMIT $3`
		args = []interface{}{vec, threshold, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search gallery: %w", err)
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var m SearchMatch
		if err := rows.Scan(&m.IdentityID, &m.Name, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type SearchMatch struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Name       string    `json:"name"`
	Score      float32   `json:"score"`
}

// --- Streams ---

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	if st.Config == nil {
		st.Config = json.RawMessage("{}")
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, url, stream_type, mode, fps, status, collection_id, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
		st.ID, st.URL, st.StreamType, st.Mode, st.FPS, st.Status, st.CollectionID, st.Config,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st := &models.Stream{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, stream_type, mode, fps, status, collection_id, config, error_message, created_at, updated_at
		 FROM streams WHERE id = $1`, id,
	).Scan(&st.ID, &st.URL, &st.StreamType, &st.Mode, &st.FPS, &st.Status,
		&st.CollectionID, &st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, stream_type, mode, fps, status, collection_id, config, error_message, created_at, updated_at
		 FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.URL, &st.StreamType, &st.Mode, &st.FPS, &st.Status,
			&st.CollectionID, &st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, nil
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, id)
	return err
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream not found")
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	var vec *pgvector.Vector
	if len(ev.Embedding) > 0 {
		v := pgvector.NewVector(ev.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, stream_id, track_id, global_id, timestamp, confidence, embedding, matched_person_id, match_score, snapshot_key, frame_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.StreamID, ev.TrackID, ev.GlobalID, ev.Timestamp,
		ev.Confidence, vec, ev.MatchedPersonID, ev.MatchScore, ev.SnapshotKey, ev.FrameKey, ev.CreatedAt)
	return err
}

func (s *PostgresStore) QueryEvents(ctx context.Context, streamID uuid.UUID, from, to *time.Time, personID *uuid.UUID, unknown *bool, limit, offset int) ([]models.Event, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE stream_id = $1"
	args := []interface{}{streamID}
	argIdx := 2

	if from != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}
	if personID != nil {
		baseWhere += fmt.Sprintf(" AND matched_person_id = $%d", argIdx)
		args = append(args, *personID)
		argIdx++
	}
	if unknown != nil && *unknown {
		baseWhere += " AND matched_person_id IS NULL"
	}

	// Count total
	var total int
	countQuery := "SELECT COUNT(*) FROM events " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	// Fetch page
	query := fmt.Sprintf(
		`SELECT id, stream_id, track_id, global_id, timestamp, confidence, matched_person_id, match_score, snapshot_key, frame_key, created_at
		 FROM events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.StreamID, &ev.TrackID, &ev.GlobalID, &ev.Timestamp,
			&ev.Confidence, &ev.MatchedPersonID, &ev.MatchScore, &ev.SnapshotKey, &ev.FrameKey, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, nil
}

// GetEvent returns a single event by ID.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var ev models.Event
	err := s.pool.QueryRow(ctx,
		`SELECT id, stream_id, track_id, global_id, timestamp, confidence, matched_person_id, match_score, snapshot_key, frame_key, created_at
		 FROM events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.StreamID, &ev.TrackID, &ev.GlobalID, &ev.Timestamp,
			&ev.Confidence, &ev.MatchedPersonID, &ev.MatchScore, &ev.SnapshotKey, &ev.FrameKey, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// EventSearchMatch is one result of a pgvector similarity search over past
// detection events.
type EventSearchMatch struct {
	EventID         uuid.UUID  `json:"event_id"`
	StreamID        uuid.UUID  `json:"stream_id"`
	Timestamp       time.Time  `json:"timestamp"`
	Score           float32    `json:"score"`
	GlobalID        string     `json:"global_id"`
	MatchedPersonID *uuid.UUID `json:"matched_person_id,omitempty"`
	SnapshotKey     string     `json:"snapshot_key,omitempty"`
}

// SearchEvents finds past detection events with embeddings closest to the
// given query embedding, independent of the GTM's own online association.
func (s *PostgresStore) SearchEvents(ctx context.Context, embedding []float32, streamID *uuid.UUID, threshold float64, limit int) ([]EventSearchMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	var query string
	var args []interface{}
	if streamID != nil {
		query = `
			SELECT id, stream_id, timestamp, 1 - (embedding <=> $1) AS score, global_id, matched_person_id, snapshot_key
			FROM events
			WHERE embedding IS NOT NULL AND stream_id = $2
			  AND 1 - (embedding <=> $1) >= $3
			ORDER BY embedding <=> $1
			LIMIT $4`
		args = []interface{}{vec, *streamID, threshold, limit}
	} else {
		query = `
			SELECT id, stream_id, timestamp, 1 - (embedding <=> $1) AS score, global_id, matched_person_id, snapshot_key
			FROM events
			WHERE embedding IS NOT NULL
			  AND 1 - (embedding <=> $1) >= $2
			ORDER BY embedding <=> $1
			LIMIT $3`
		args = []interface{}{vec, threshold, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var matches []EventSearchMatch
	for rows.Next() {
		var m EventSearchMatch
		if err := rows.Scan(&m.EventID, &m.StreamID, &m.Timestamp, &m.Score, &m.GlobalID, &m.MatchedPersonID, &m.SnapshotKey); err != nil {
			return nil, fmt.Errorf("scan event search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// GetEmbeddingByTrackID returns the most recent embedding recorded for a
// track on a given stream, or nil if none has one.
func (s *PostgresStore) GetEmbeddingByTrackID(ctx context.Context, streamID uuid.UUID, trackID string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding FROM events
		 WHERE stream_id = $1 AND track_id = $2 AND embedding IS NOT NULL
		 ORDER BY timestamp DESC LIMIT 1`, streamID, trackID,
	).Scan(&vec)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get embedding by track id: %w", err)
	}
	return vec.Slice(), nil
}
