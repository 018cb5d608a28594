package sqlstore

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"chunkledger/internal/chunk"
	"chunkledger/internal/datatype"
	"chunkledger/pkg/ledger"
)

type chunkRow struct {
	ID             int64         `db:"id"`
	Path           string        `db:"chunk_path"`
	Hash           string        `db:"chunk_hash"`
	FileSize       int64         `db:"file_size"`
	Chunkable      bool          `db:"is_chunkable"`
	DataType       string        `db:"data_type"`
	TimeBin        int64         `db:"time_bin"`
	StudyID        string        `db:"study_id"`
	ParticipantID  string        `db:"participant_id"`
	SurveyID       sql.NullInt64 `db:"survey_id"`
	SurveyObjectID string        `db:"survey_object_id"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func (r chunkRow) toDomain() ledger.Chunk {
	return ledger.Chunk{
		ID:             r.ID,
		Path:           r.Path,
		Hash:           r.Hash,
		FileSize:       r.FileSize,
		Chunkable:      r.Chunkable,
		DataType:       datatype.Type(r.DataType),
		TimeBin:        r.TimeBin,
		StudyID:        r.StudyID,
		ParticipantID:  r.ParticipantID,
		SurveyID:       r.SurveyID.Int64,
		SurveyObjectID: r.SurveyObjectID,
		CreatedAt:      fromUnix(r.CreatedAt),
		UpdatedAt:      fromUnix(r.UpdatedAt),
	}
}

// chunkColumns selects chunk rows joined with their survey's object id.
func chunkColumns() []any {
	c := func(name string) exp.AliasedExpression { return goqu.I("c." + name).As(name) }
	return []any{
		c("id"), c("chunk_path"), c("chunk_hash"), c("file_size"), c("is_chunkable"),
		c("data_type"), c("time_bin"), c("study_id"), c("participant_id"), c("survey_id"),
		goqu.COALESCE(goqu.I("s.object_id"), "").As("survey_object_id"),
		c("created_at"), c("updated_at"),
	}
}

func (s *Store) chunkQuery() *goqu.SelectDataset {
	return s.gdb.From(chunksTable.As("c")).
		LeftJoin(surveysTable.As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("c.survey_id")))).
		Select(chunkColumns()...)
}

func (s *Store) scanChunks(ctx context.Context, ds *goqu.SelectDataset) ([]ledger.Chunk, error) {
	var rows []chunkRow
	if err := ds.Prepared(true).ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]ledger.Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// GetChunk returns the oldest row registered at path.
func (s *Store) GetChunk(ctx context.Context, path string) (ledger.Chunk, error) {
	chunks, err := s.scanChunks(ctx, s.chunkQuery().
		Where(goqu.I("c.chunk_path").Eq(path)).
		Order(goqu.I("c.id").Asc()).
		Limit(1))
	if err != nil {
		return ledger.Chunk{}, errors.Wrapf(err, "get chunk %s", path)
	}
	if len(chunks) == 0 {
		return ledger.Chunk{}, errors.Wrapf(ledger.ErrNotFound, "chunk %s", path)
	}
	return chunks[0], nil
}

// CreateChunk registers a new chunk. A second create of the same path
// fails with ErrChunkExists through the unique index.
func (s *Store) CreateChunk(ctx context.Context, c ledger.Chunk) error {
	now := s.unixNow()
	var survey any
	if c.SurveyID != 0 {
		survey = c.SurveyID
	}
	res, err := s.gdb.Insert(chunksTable).
		Rows(goqu.Record{
			"chunk_path":     c.Path,
			"chunk_hash":     c.Hash,
			"file_size":      c.FileSize,
			"is_chunkable":   c.Chunkable,
			"data_type":      string(c.DataType),
			"time_bin":       c.TimeBin,
			"study_id":       c.StudyID,
			"participant_id": c.ParticipantID,
			"survey_id":      survey,
			"created_at":     now,
			"updated_at":     now,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "create chunk %s", c.Path)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ledger.ErrChunkExists, "chunk %s", c.Path)
	}
	return nil
}

// UpdateChunk records new content hash and size for path.
func (s *Store) UpdateChunk(ctx context.Context, path, hash string, size int64) error {
	res, err := s.gdb.Update(chunksTable).
		Set(goqu.Record{"chunk_hash": hash, "file_size": size, "updated_at": s.unixNow()}).
		Where(goqu.Ex{"chunk_path": path}).
		Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "update chunk %s", path)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ledger.ErrNotFound, "chunk %s", path)
	}
	return nil
}

func (s *Store) DeleteChunk(ctx context.Context, id int64) error {
	_, err := s.gdb.Delete(chunksTable).Where(goqu.Ex{"id": id}).Prepared(true).Executor().ExecContext(ctx)
	return errors.Wrapf(err, "delete chunk %d", id)
}

// ListChunks serves the downstream read contract.
func (s *Store) ListChunks(ctx context.Context, f ledger.ChunkFilter) ([]ledger.Chunk, error) {
	var where []exp.Expression
	if f.StudyID != "" {
		where = append(where, goqu.I("c.study_id").Eq(f.StudyID))
	}
	if len(f.ParticipantIDs) > 0 {
		where = append(where, goqu.I("c.participant_id").In(f.ParticipantIDs))
	}
	if len(f.DataTypes) > 0 {
		types := make([]string, len(f.DataTypes))
		for i, t := range f.DataTypes {
			types[i] = string(t)
		}
		where = append(where, goqu.I("c.data_type").In(types))
	}
	if !f.TimeStart.IsZero() {
		where = append(where, goqu.I("c.time_bin").Gte(chunk.Binify(f.TimeStart.UnixMilli())))
	}
	if !f.TimeEnd.IsZero() {
		where = append(where, goqu.I("c.time_bin").Lte(chunk.Binify(f.TimeEnd.UnixMilli())))
	}
	ds := s.chunkQuery().Where(where...).Order(goqu.I("c.time_bin").Asc(), goqu.I("c.chunk_path").Asc(), goqu.I("c.id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	out, err := s.scanChunks(ctx, ds)
	return out, errors.Wrap(err, "list chunks")
}

// DuplicateChunkPaths returns paths with more than one ledger row.
func (s *Store) DuplicateChunkPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.gdb.From(chunksTable).
		Select("chunk_path").
		GroupBy("chunk_path").
		Having(goqu.COUNT("*").Gt(1)).
		Order(goqu.C("chunk_path").Asc()).
		Prepared(true).ScanValsContext(ctx, &paths)
	return paths, errors.Wrap(err, "find duplicate chunk paths")
}

func (s *Store) ChunksByPath(ctx context.Context, path string) ([]ledger.Chunk, error) {
	out, err := s.scanChunks(ctx, s.chunkQuery().
		Where(goqu.I("c.chunk_path").Eq(path)).
		Order(goqu.I("c.id").Asc()))
	return out, errors.Wrapf(err, "chunks at %s", path)
}
