package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videoRAG/core"
)

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	APIKey     string // Zilliz Cloud
	Collection string
	Dim        int
}

// MilvusIndex stores each indexing run of a video in its own partition
// ("generation"). A replace fills a fresh partition and loads it, then points
// the video at it in the <collection>_active collection and drops what it
// replaced. Readers resolve the pointer on every read, so every process sees
// the same generation and a partition still being filled is never served.
type MilvusIndex struct {
	mc      client.Client
	ops     milvusOps
	coll    string
	pointer string
	dim     int

	mu        sync.RWMutex
	stampMu   sync.Mutex
	lastStamp int64
}

// milvusOps is the part of the Milvus API the index works through.
type milvusOps interface {
	CreatePartition(ctx context.Context, coll, part string) error
	Insert(ctx context.Context, coll, part string, cols ...entity.Column) error
	Upsert(ctx context.Context, coll string, cols ...entity.Column) error
	Delete(ctx context.Context, coll, expr string) error
	Flush(ctx context.Context, coll string) error
	LoadPartition(ctx context.Context, coll, part string) error
	ShowPartitions(ctx context.Context, coll string) ([]string, error)
	DropPartition(ctx context.Context, coll, part string) error
	Query(ctx context.Context, coll string, parts []string, expr string, fields []string) (map[string]entity.Column, error)
}

type sdkOps struct{ c client.Client }

func (o sdkOps) CreatePartition(ctx context.Context, coll, part string) error {
	return o.c.CreatePartition(ctx, coll, part)
}

func (o sdkOps) Insert(ctx context.Context, coll, part string, cols ...entity.Column) error {
	_, err := o.c.Insert(ctx, coll, part, cols...)
	return err
}

func (o sdkOps) Upsert(ctx context.Context, coll string, cols ...entity.Column) error {
	_, err := o.c.Upsert(ctx, coll, "", cols...)
	return err
}

func (o sdkOps) Delete(ctx context.Context, coll, expr string) error {
	return o.c.Delete(ctx, coll, "", expr)
}

func (o sdkOps) Flush(ctx context.Context, coll string) error { return o.c.Flush(ctx, coll, false) }

func (o sdkOps) LoadPartition(ctx context.Context, coll, part string) error {
	return o.c.LoadPartitions(ctx, coll, []string{part}, false)
}

func (o sdkOps) ShowPartitions(ctx context.Context, coll string) ([]string, error) {
	parts, err := o.c.ShowPartitions(ctx, coll)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.Name)
	}
	return names, nil
}

func (o sdkOps) DropPartition(ctx context.Context, coll, part string) error {
	if err := o.c.ReleasePartitions(ctx, coll, []string{part}); err != nil {
		storeLogger.Printf("release partition %s: %v", part, err)
	}
	return o.c.DropPartition(ctx, coll, part)
}

func (o sdkOps) Query(ctx context.Context, coll string, parts []string, expr string, fields []string) (map[string]entity.Column, error) {
	rs, err := o.c.Query(ctx, coll, parts, expr, fields)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]entity.Column, len(fields))
	for _, f := range fields {
		cols[f] = rs.GetColumn(f)
	}
	return cols, nil
}

func NewMilvusIndex(ctx context.Context, cfg MilvusConfig) (*MilvusIndex, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := newMilvusIndex(sdkOps{c: mc}, cfg.Collection, cfg.Dim)
	s.mc = mc
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	return s, nil
}

func newMilvusIndex(ops milvusOps, coll string, dim int) *MilvusIndex {
	return &MilvusIndex{ops: ops, coll: coll, pointer: coll + "_active", dim: dim}
}

func (s *MilvusIndex) Close() error {
	if s.mc == nil {
		return nil
	}
	return s.mc.Close()
}

func (s *MilvusIndex) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll).WithDescription("transcript entries")
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2), client.WithConsistencyLevel(entity.ClStrong)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
		if err != nil {
			return fmt.Errorf("new hnsw index: %w", err)
		}
		if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return s.ensurePointerCollection(ctx)
}

// ensurePointerCollection creates the video -> active partition table. Milvus
// requires a vector field, so each row carries a fixed two-dimensional marker.
func (s *MilvusIndex) ensurePointerCollection(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.pointer)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema().WithName(s.pointer).WithDescription("active generation per video")
		schema.WithField(entity.NewField().WithName("video_id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("partition").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("marker").WithDataType(entity.FieldTypeFloatVector).WithDim(2))

		if err := s.mc.CreateCollection(ctx, schema, int32(1), client.WithConsistencyLevel(entity.ClStrong)); err != nil {
			return fmt.Errorf("create collection %s: %w", s.pointer, err)
		}
		idx, err := entity.NewIndexFlat(entity.L2)
		if err != nil {
			return fmt.Errorf("new flat index: %w", err)
		}
		if err := s.mc.CreateIndex(ctx, s.pointer, "marker", idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", s.pointer, err)
		}
	}
	if err := s.mc.LoadCollection(ctx, s.pointer, false); err != nil {
		return fmt.Errorf("load collection %s: %w", s.pointer, err)
	}
	return nil
}

// nextStamp is strictly increasing within the process so two runs never share
// a partition name.
func (s *MilvusIndex) nextStamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	stamp := time.Now().UnixNano()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

func (s *MilvusIndex) ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error {
	stamp := s.nextStamp()
	part := generationName(videoID, stamp)
	if err := s.ops.CreatePartition(ctx, s.coll, part); err != nil {
		return fmt.Errorf("create partition %s: %w", part, err)
	}
	if err := s.fill(ctx, part, videoID, entries); err != nil {
		s.abandon(part)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.activeGeneration(ctx, videoID)
	if err != nil {
		s.abandon(part)
		return err
	}
	if cur != "" && generationStamp(cur) > stamp {
		// a later run already swapped in
		return s.dropPartition(ctx, part)
	}
	// the pointer may have been written even when the call fails, so the
	// partition is left for the next replace to collect
	if err := s.ops.Upsert(ctx, s.pointer,
		entity.NewColumnVarChar("video_id", []string{videoID}),
		entity.NewColumnVarChar("partition", []string{part}),
		entity.NewColumnFloatVector("marker", 2, [][]float32{{0, 0}}),
	); err != nil {
		return fmt.Errorf("activate %s: %w", part, err)
	}

	// runs newer than the one replaced may still be filling; they clean up after themselves
	if cur != "" {
		s.dropUpTo(ctx, videoID, generationStamp(cur))
	}
	storeLogger.Printf("video %s now served from %s (%d entries)", videoID, part, len(entries))
	return nil
}

func (s *MilvusIndex) abandon(part string) {
	if err := s.dropPartition(context.Background(), part); err != nil {
		storeLogger.Printf("failed to drop abandoned partition %s: %v", part, err)
	}
}

func (s *MilvusIndex) fill(ctx context.Context, part, videoID string, entries []core.Entry) error {
	if len(entries) > 0 {
		ids := make([]string, len(entries))
		starts := make([]float64, len(entries))
		ends := make([]float64, len(entries))
		texts := make([]string, len(entries))
		vectors := make([][]float32, len(entries))
		for i, e := range entries {
			if len(e.Embedding) != s.dim {
				return fmt.Errorf("entry %d has dimension %d, collection expects %d", i, len(e.Embedding), s.dim)
			}
			ids[i], starts[i], ends[i], texts[i], vectors[i] = videoID, e.Start, e.End, e.Text, e.Embedding
		}
		err := s.ops.Insert(ctx, s.coll, part,
			entity.NewColumnVarChar("video_id", ids),
			entity.NewColumnDouble("start", starts),
			entity.NewColumnDouble("end", ends),
			entity.NewColumnVarChar("text", texts),
			entity.NewColumnFloatVector("vector", s.dim, vectors),
		)
		if err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}
		if err := s.ops.Flush(ctx, s.coll); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	if err := s.ops.LoadPartition(ctx, s.coll, part); err != nil {
		return fmt.Errorf("load partition %s: %w", part, err)
	}
	return nil
}

// activeGeneration returns the partition the video is served from, or "".
func (s *MilvusIndex) activeGeneration(ctx context.Context, videoID string) (string, error) {
	cols, err := s.ops.Query(ctx, s.pointer, nil, "video_id == "+strconv.Quote(videoID), []string{"partition"})
	if err != nil {
		return "", fmt.Errorf("read active generation of %s: %w", videoID, err)
	}
	col, ok := cols["partition"].(*entity.ColumnVarChar)
	if !ok || len(col.Data()) == 0 {
		return "", nil
	}
	return col.Data()[0], nil
}

func (s *MilvusIndex) ListEntries(ctx context.Context, videoID string) ([]core.Entry, error) {
	// the read lock keeps this process' own replaces from dropping the partition mid-query
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, err := s.activeGeneration(ctx, videoID)
	if err != nil || part == "" {
		return nil, err
	}
	entries, err := s.queryGeneration(ctx, videoID, part)
	if err == nil {
		return entries, nil
	}
	// another process may have swapped in a new generation and dropped this one
	next, nerr := s.activeGeneration(ctx, videoID)
	if nerr != nil || next == part {
		return nil, err
	}
	if next == "" {
		return nil, nil
	}
	return s.queryGeneration(ctx, videoID, next)
}

func (s *MilvusIndex) queryGeneration(ctx context.Context, videoID, part string) ([]core.Entry, error) {
	cols, err := s.ops.Query(ctx, s.coll, []string{part}, "start >= 0", []string{"start", "end", "text", "vector"})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", part, err)
	}
	entries, err := entriesFromColumns(videoID, cols["start"], cols["end"], cols["text"], cols["vector"])
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	return entries, nil
}

func entriesFromColumns(videoID string, startCol, endCol, textCol, vecCol entity.Column) ([]core.Entry, error) {
	starts, ok1 := startCol.(*entity.ColumnDouble)
	ends, ok2 := endCol.(*entity.ColumnDouble)
	texts, ok3 := textCol.(*entity.ColumnVarChar)
	vecs, ok4 := vecCol.(*entity.ColumnFloatVector)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("unexpected column types in milvus result")
	}
	sd, ed, td, vd := starts.Data(), ends.Data(), texts.Data(), vecs.Data()
	n := min(len(sd), len(ed), len(td), len(vd))
	out := make([]core.Entry, n)
	for i := 0; i < n; i++ {
		out[i] = core.Entry{VideoID: videoID, Start: sd[i], End: ed[i], Text: td[i], Embedding: vd[i]}
	}
	return out, nil
}

// dropUpTo drops the video's generations stamped at or before limit.
func (s *MilvusIndex) dropUpTo(ctx context.Context, videoID string, limit int64) {
	gens, err := s.generations(ctx, videoID)
	if err != nil {
		storeLogger.Printf("list generations for %s: %v", videoID, err)
		return
	}
	for _, old := range gens {
		if generationStamp(old) > limit {
			continue
		}
		if err := s.dropPartition(ctx, old); err != nil {
			storeLogger.Printf("failed to drop superseded partition %s: %v", old, err)
		}
	}
}

func (s *MilvusIndex) DeleteEntries(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ops.Delete(ctx, s.pointer, "video_id in ["+strconv.Quote(videoID)+"]"); err != nil {
		return fmt.Errorf("clear active generation of %s: %w", videoID, err)
	}
	gens, err := s.generations(ctx, videoID)
	if err != nil {
		return err
	}
	for _, p := range gens {
		if err := s.dropPartition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// generations lists a video's partitions oldest first.
func (s *MilvusIndex) generations(ctx context.Context, videoID string) ([]string, error) {
	parts, err := s.ops.ShowPartitions(ctx, s.coll)
	if err != nil {
		return nil, fmt.Errorf("show partitions: %w", err)
	}
	prefix := generationPrefix(videoID)
	var names []string
	for _, p := range parts {
		if isGeneration(p, prefix) {
			names = append(names, p)
		}
	}
	sortGenerations(names)
	return names, nil
}

func (s *MilvusIndex) dropPartition(ctx context.Context, part string) error {
	if err := s.ops.DropPartition(ctx, s.coll, part); err != nil {
		return fmt.Errorf("drop partition %s: %w", part, err)
	}
	return nil
}

// generationPrefix maps a video ID onto Milvus' partition name alphabet.
func generationPrefix(videoID string) string {
	var b strings.Builder
	b.WriteString("v_")
	for _, r := range videoID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	return b.String()
}

func generationName(videoID string, stamp int64) string {
	return generationPrefix(videoID) + strconv.FormatInt(stamp, 10)
}

// isGeneration rejects names that only share a prefix with another video's generations.
func isGeneration(name, prefix string) bool {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generationStamp(name string) int64 {
	i := strings.LastIndexByte(name, '_')
	n, _ := strconv.ParseInt(name[i+1:], 10, 64)
	return n
}

func sortGenerations(names []string) {
	sort.Slice(names, func(i, j int) bool { return generationStamp(names[i]) < generationStamp(names[j]) })
}
