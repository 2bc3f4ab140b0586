package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/mbflow-labs/storygraph/internal/domain"
	"github.com/mbflow-labs/storygraph/internal/graph"
)

// PgStore is the durable PatchStore backed by Postgres via bun.
type PgStore struct {
	db *bun.DB
}

// NewPgStore opens a bun.DB against dsn. Call InitSchema once before use.
func NewPgStore(dsn string) *PgStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return &PgStore{db: bun.NewDB(sqldb, pgdialect.New())}
}

// InitSchema creates the patch/snapshot tables if they do not exist.
func (s *PgStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*patchModel)(nil),
		(*snapshotModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

type patchModel struct {
	bun.BaseModel `bun:"table:patches,alias:p"`

	StoryID       string         `bun:"story_id,pk"`
	Version       int64          `bun:"version,pk"`
	TickID        uuid.UUID      `bun:"tick_id"`
	ParentPatchID *uuid.UUID     `bun:"parent_patch_id"`
	RNGSeed       uint64         `bun:"rng_seed"`
	Effects       []domain.Effect `bun:"effects,type:jsonb"`
	Journal       []domain.Fragment `bun:"journal,type:jsonb"`
	IO            []domain.IoRecord `bun:"io,type:jsonb"`
}

func newPatchModel(storyID string, version int64, p *domain.Patch) *patchModel {
	return &patchModel{
		StoryID:       storyID,
		Version:       version,
		TickID:        p.TickID,
		ParentPatchID: p.ParentPatchID,
		RNGSeed:       p.RNGSeed,
		Effects:       p.Effects,
		Journal:       p.Journal,
		IO:            p.IO,
	}
}

func (m *patchModel) toDomain() *domain.Patch {
	return &domain.Patch{
		TickID:        m.TickID,
		ParentPatchID: m.ParentPatchID,
		RNGSeed:       m.RNGSeed,
		Effects:       m.Effects,
		Journal:       m.Journal,
		IO:            m.IO,
	}
}

type snapshotModel struct {
	bun.BaseModel `bun:"table:snapshots,alias:s"`

	StoryID string                   `bun:"story_id,pk"`
	Version int64                    `bun:"version,pk"`
	Cursor  uuid.UUID                `bun:"cursor"`
	Items   []map[string]interface{} `bun:"items,type:jsonb"`
	OutIdx  map[string][]string      `bun:"out_idx,type:jsonb"`
	InIdx   map[string][]string      `bun:"in_idx,type:jsonb"`
}

type pgTx struct {
	tx bun.Tx
}

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// BeginTx starts a real database transaction.
func (s *PgStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return pgTx{tx: tx}, nil
}

func (s *PgStore) AppendPatch(ctx context.Context, storyID string, version int64, patch *domain.Patch) error {
	model := newPatchModel(storyID, version, patch)
	_, err := s.db.NewInsert().Model(model).
		On("CONFLICT (story_id, version) DO UPDATE").
		Exec(ctx)
	return err
}

func (s *PgStore) GetPatches(ctx context.Context, storyID string, fromVersion, toVersion int64) ([]*domain.Patch, error) {
	var models []*patchModel
	err := s.db.NewSelect().Model(&models).
		Where("story_id = ?", storyID).
		Where("version >= ?", fromVersion).
		Where("version <= ?", toVersion).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Patch, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (s *PgStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	items := make([]map[string]interface{}, len(snap.DTO.Items))
	for i, item := range snap.DTO.Items {
		items[i] = map[string]interface{}{"cls": item.Cls, "data": item.Data}
	}
	model := &snapshotModel{
		StoryID: snap.StoryID,
		Version: snap.Version,
		Cursor:  snap.Cursor,
		Items:   items,
		OutIdx:  snap.DTO.OutIdx,
		InIdx:   snap.DTO.InIdx,
	}
	_, err := s.db.NewInsert().Model(model).
		On("CONFLICT (story_id, version) DO UPDATE").
		Exec(ctx)
	return err
}

func (s *PgStore) GetLatestSnapshot(ctx context.Context, storyID string, beforeVersion int64) (*Snapshot, error) {
	var model snapshotModel
	err := s.db.NewSelect().Model(&model).
		Where("story_id = ?", storyID).
		Where("version < ?", beforeVersion).
		Order("version DESC").
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return modelToSnapshot(&model), nil
}

func modelToSnapshot(m *snapshotModel) *Snapshot {
	items := make([]graph.ItemDTO, len(m.Items))
	for i, raw := range m.Items {
		cls, _ := raw["cls"].(string)
		data, _ := raw["data"].(map[string]interface{})
		typed := make(map[string]domain.Value, len(data))
		for k, v := range data {
			typed[k] = v
		}
		items[i] = graph.ItemDTO{Cls: cls, Data: typed}
	}
	return &Snapshot{
		StoryID: m.StoryID,
		Version: m.Version,
		Cursor:  m.Cursor,
		DTO: graph.DTO{
			Items:  items,
			OutIdx: m.OutIdx,
			InIdx:  m.InIdx,
		},
	}
}

func (s *PgStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PgStore) Close() error                   { return s.db.Close() }
