package pipeline

import (
	"bytes"
	"context"
	"sort"

	"github.com/pkg/errors"

	"chunkledger/internal/blob"
	"chunkledger/internal/chunk"
	"chunkledger/internal/datatype"
	"chunkledger/internal/normalize"
	"chunkledger/pkg/ledger"
)

const chunkContentType = "text/csv"

// itemState tracks one work item through a page. An item is removable when
// it never failed and every bucket it fed was written. retry marks failures
// caused by the ledger or object store rather than the upload's content.
type itemState struct {
	item    ledger.WorkItem
	key     datatype.RawKey
	pending int
	failed  bool
	retry   bool
}

func (s *itemState) fail(retry bool) {
	s.failed = true
	s.retry = s.retry || retry
}

// batch holds the rows one page contributes to one BinKey.
type batch struct {
	key    chunk.BinKey
	rows   [][]string
	items  []*itemState
	survey string
}

type rawResult struct {
	item ledger.WorkItem
	data []byte
	err  error
}

type existingResult struct {
	path  string
	chunk ledger.Chunk
	found bool
	data  []byte
	err   error
}

// write is one chunk object to store plus its ledger update.
type write struct {
	path     string
	data     []byte
	existing *ledger.Chunk
	key      chunk.BinKey
	survey   string
	batches  []*batch
}

type writeResult struct {
	w       write
	created bool
	err     error
}

type registration struct {
	state *itemState
	data  []byte
}

type registrationResult struct {
	state *itemState
	err   error
}

// page processes one page of a participant's queue and removes the items
// that are fully merged.
func (ps *pass) page(ctx context.Context, part ledger.Participant, items []ledger.WorkItem) Report {
	var rep Report
	rep.Files = len(items)
	states := make(map[int64]*itemState, len(items))
	batches := make(map[chunk.BinKey]*batch)
	var order []chunk.BinKey
	var registrations []registration

	// Stage 1: read raw uploads on the pool, normalize and bin here.
	for res := range fanOut(ctx, ps.cfg.Workers, items, ps.fetchRaw) {
		ps.metrics.FilesProcessed.Inc()
		st := &itemState{item: res.item}
		states[res.item.ID] = st
		if errors.Is(res.err, blob.ErrNotFound) {
			ps.log.Warn().Str("key", res.item.Key).Msg("raw upload missing from object store, dropping work item")
			continue
		}
		if res.err != nil {
			ps.storeFailure(st, "fetch", res.err)
			continue
		}
		key, err := datatype.ParseRawKey(ps.cfg.RawPrefix, res.item.Key)
		if err != nil {
			ps.badFile(st, "key", err)
			continue
		}
		st.key = key
		if !key.Type.Chunkable() {
			st.pending = 1
			registrations = append(registrations, registration{state: st, data: res.data})
			continue
		}
		norm, err := normalize.Normalize(key, res.data)
		if errors.Is(err, normalize.ErrEmptyFile) {
			continue
		}
		if err != nil {
			ps.badFile(st, "normalize", err)
			continue
		}
		grouped := chunk.GroupRows(key.Study, key.Participant, key.Type, norm.Header, norm.Rows)
		dropped := norm.Dropped + grouped.Dropped
		rep.RowsDropped += dropped
		ps.metrics.RowsDropped.Add(float64(dropped))
		for bk, rows := range grouped.Buckets {
			b, ok := batches[bk]
			if !ok {
				b = &batch{key: bk, survey: norm.SurveyID}
				batches[bk] = b
				order = append(order, bk)
			}
			b.rows = append(b.rows, rows...)
			b.items = append(b.items, st)
			st.pending++
		}
	}

	// Stage 2: read the current chunk for every touched path on the pool.
	byPath := make(map[string][]*batch)
	var paths []string
	sort.SliceStable(order, func(i, j int) bool { return lessBinKey(order[i], order[j]) })
	for _, bk := range order {
		path := bk.Path(ps.cfg.ChunksRoot)
		if _, ok := byPath[path]; !ok {
			paths = append(paths, path)
		}
		byPath[path] = append(byPath[path], batches[bk])
	}

	var writes []write
	for res := range fanOut(ctx, ps.cfg.Workers, paths, ps.fetchExisting) {
		group := byPath[res.path]
		if errors.Is(res.err, ledger.ErrObjectMissing) {
			ps.staleChunk(ctx, res.chunk, group)
			continue
		}
		if res.err != nil {
			ps.errs.Add(errors.Wrapf(res.err, "read chunk %s", res.path))
			failBatches(group, true)
			continue
		}
		if w, ok := ps.merge(res, group, &rep); ok {
			writes = append(writes, w)
		}
	}

	// Stage 3: write merged chunks and register unchunkable uploads on the pool.
	for res := range fanOut(ctx, ps.cfg.Workers, writes, ps.writeChunk) {
		if res.err != nil {
			ps.errs.Add(res.err)
			failBatches(res.w.batches, true)
			continue
		}
		if res.created {
			rep.ChunksCreated++
			ps.metrics.Chunks.WithLabelValues("created").Inc()
		} else {
			rep.ChunksUpdated++
			ps.metrics.Chunks.WithLabelValues("updated").Inc()
		}
		doneBatches(res.w.batches)
	}
	for res := range fanOut(ctx, ps.cfg.Workers, registrations, ps.register) {
		if res.err != nil {
			ps.storeFailure(res.state, "register", res.err)
			continue
		}
		rep.Registered++
		ps.metrics.Chunks.WithLabelValues("registered").Inc()
		res.state.pending--
	}

	// Stage 4: remove what was merged.
	var removable []int64
	for _, it := range items {
		st := states[it.ID]
		if st != nil && !st.failed && st.pending == 0 {
			removable = append(removable, it.ID)
		} else if st == nil || st.retry {
			rep.Retryable++
		}
	}
	if len(removable) > 0 {
		if err := ps.store.RemoveWorkItems(ctx, removable); err != nil {
			ps.errs.Add(errors.Wrapf(err, "remove %d work items", len(removable)))
			rep.Retryable += len(removable)
			removable = nil
		}
	}
	rep.Removed = len(removable)
	rep.BadFiles = len(items) - rep.Removed
	ps.metrics.FilesRemoved.Add(float64(rep.Removed))
	ps.log.Debug().
		Str("participant", part.ParticipantID).
		Int("files", rep.Files).
		Int("removed", rep.Removed).
		Int("bad_files", rep.BadFiles).
		Msg("page processed")
	return rep
}

func (ps *pass) badFile(st *itemState, reason string, err error) {
	st.fail(false)
	ps.metrics.BadFiles.WithLabelValues(reason).Inc()
	ps.errs.AddFile(st.item.Key, err)
}

// storeFailure is badFile for failures the next attempt may not repeat.
func (ps *pass) storeFailure(st *itemState, reason string, err error) {
	st.fail(true)
	ps.metrics.BadFiles.WithLabelValues(reason).Inc()
	ps.errs.AddFile(st.item.Key, err)
}

func (ps *pass) fetchRaw(ctx context.Context, item ledger.WorkItem) rawResult {
	data, err := blob.GetBytes(ctx, ps.blobs, item.Key)
	return rawResult{item: item, data: data, err: err}
}

// fetchExisting loads the ledger row and object for path. A row whose object
// is gone is reported as ledger.ErrObjectMissing.
func (ps *pass) fetchExisting(ctx context.Context, path string) existingResult {
	res := existingResult{path: path}
	c, err := ps.store.GetChunk(ctx, path)
	if errors.Is(err, ledger.ErrNotFound) {
		return res
	}
	if err != nil {
		res.err = err
		return res
	}
	res.chunk, res.found = c, true
	res.data, res.err = blob.GetBytes(ctx, ps.blobs, path)
	if errors.Is(res.err, blob.ErrNotFound) {
		res.err = errors.Wrapf(ledger.ErrObjectMissing, "%s", path)
	}
	return res
}

// merge folds every batch of one path into the stored content in order.
// A batch whose header differs is left out and its items stay queued.
func (ps *pass) merge(res existingResult, group []*batch, rep *Report) (write, bool) {
	var current []byte
	if res.found {
		current = res.data
	}
	var applied []*batch
	for _, b := range group {
		merged, err := chunk.Merge(res.path, current, b.key.Header, b.rows)
		var mismatch *chunk.HeaderMismatchError
		if errors.As(err, &mismatch) {
			ps.metrics.HeaderMismatches.Inc()
			ps.errs.Add(mismatch)
			failBatches([]*batch{b}, false)
			continue
		}
		if err != nil {
			ps.errs.Add(err)
			failBatches([]*batch{b}, false)
			continue
		}
		current = merged
		applied = append(applied, b)
	}
	if len(applied) == 0 {
		return write{}, false
	}
	if res.found && bytes.Equal(current, res.data) {
		rep.ChunksUnchanged++
		ps.metrics.Chunks.WithLabelValues("unchanged").Inc()
		doneBatches(applied)
		return write{}, false
	}
	w := write{path: res.path, data: current, key: applied[0].key, survey: applied[0].survey, batches: applied}
	if res.found {
		existing := res.chunk
		w.existing = &existing
	}
	return w, true
}

// writeChunk stores one chunk. A new path is claimed in the ledger before
// the upload so a concurrent creator fails on the unique index instead of
// overwriting the object.
func (ps *pass) writeChunk(ctx context.Context, w write) writeResult {
	hash, size := chunk.Hash(w.data), int64(len(w.data))
	if w.existing != nil {
		if _, err := blob.PutBytes(ctx, ps.blobs, w.path, w.data, chunkContentType); err != nil {
			return writeResult{w: w, err: errors.Wrapf(err, "upload %s", w.path)}
		}
		if err := ps.store.UpdateChunk(ctx, w.path, hash, size); err != nil {
			return writeResult{w: w, err: err}
		}
		return writeResult{w: w}
	}

	surveyID, err := ps.surveys.resolve(ctx, w.survey)
	if err != nil {
		return writeResult{w: w, err: err}
	}
	c := ledger.Chunk{
		Path:          w.path,
		Hash:          hash,
		FileSize:      size,
		Chunkable:     true,
		DataType:      w.key.DataType,
		TimeBin:       w.key.Bin,
		StudyID:       w.key.Study,
		ParticipantID: w.key.Participant,
		SurveyID:      surveyID,
	}
	if err := ps.store.CreateChunk(ctx, c); err != nil {
		return writeResult{w: w, err: err}
	}
	if _, err := blob.PutBytes(ctx, ps.blobs, w.path, w.data, chunkContentType); err != nil {
		if created, getErr := ps.store.GetChunk(ctx, w.path); getErr == nil {
			if delErr := ps.store.DeleteChunk(ctx, created.ID); delErr != nil {
				ps.log.Warn().Err(delErr).Str("path", w.path).Msg("could not undo ledger row after failed upload")
			}
		}
		return writeResult{w: w, err: errors.Wrapf(err, "upload %s", w.path)}
	}
	return writeResult{w: w, created: true}
}

// register records an unchunkable upload in the ledger under its raw key.
func (ps *pass) register(ctx context.Context, r registration) registrationResult {
	key := r.state.key
	ms, err := normalize.FileTimestamp(key)
	if err != nil {
		ms = r.state.item.CreatedAt.UnixMilli()
	}
	surveyID, err := ps.surveys.resolve(ctx, normalize.SurveyID(key))
	if err != nil {
		return registrationResult{state: r.state, err: err}
	}
	hash, size := chunk.Hash(r.data), int64(len(r.data))
	err = ps.store.CreateChunk(ctx, ledger.Chunk{
		Path:          key.Key,
		Hash:          hash,
		FileSize:      size,
		Chunkable:     false,
		DataType:      key.Type,
		TimeBin:       chunk.Binify(ms),
		StudyID:       key.Study,
		ParticipantID: key.Participant,
		SurveyID:      surveyID,
	})
	if errors.Is(err, ledger.ErrChunkExists) {
		err = ps.store.UpdateChunk(ctx, key.Key, hash, size)
	}
	return registrationResult{state: r.state, err: err}
}

// staleChunk purges a ledger row whose object is missing and requeues the
// upload history of its stream. The page's items for that path stay queued.
func (ps *pass) staleChunk(ctx context.Context, c ledger.Chunk, group []*batch) {
	failBatches(group, true)
	ps.metrics.StaleChunks.Inc()
	ps.log.Warn().Str("path", c.Path).Int64("chunk_id", c.ID).Msg("chunk object missing, purging ledger row")
	if err := ps.store.DeleteChunk(ctx, c.ID); err != nil {
		ps.errs.Add(errors.Wrapf(err, "purge stale chunk %s", c.Path))
		return
	}
	if _, err := ps.maint.RequeueHistory(ctx, c.ParticipantID, c.DataType); err != nil {
		ps.errs.Add(errors.Wrapf(err, "requeue history for %s", c.Path))
	}
}

func failBatches(bs []*batch, retry bool) {
	for _, b := range bs {
		for _, st := range b.items {
			st.fail(retry)
		}
	}
}

func doneBatches(bs []*batch) {
	for _, b := range bs {
		for _, st := range b.items {
			st.pending--
		}
	}
}

func lessBinKey(a, b chunk.BinKey) bool {
	if a.Bin != b.Bin {
		return a.Bin < b.Bin
	}
	if a.DataType != b.DataType {
		return a.DataType < b.DataType
	}
	if a.Study != b.Study {
		return a.Study < b.Study
	}
	return a.Participant < b.Participant
}
