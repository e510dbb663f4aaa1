// Package vectorstore is the Qdrant gateway: one collection per
// parent-URL document group, dense ANN search, and payload-based sparse
// matching for hybrid retrieval.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

const (
	dialTimeout     = 30 * time.Second
	defaultDistance = pb.Distance_Cosine
)

var waitTrue = true

type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	vectorSize  uint64
	logger      *log.Logger
}

func New(url string, vectorSize int) (*Store, error) {
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to qdrant: %v", domain.ErrVectorStoreFailed, err)
	}

	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		vectorSize:  uint64(vectorSize),
		logger:      log.WithModule("vectorstore"),
	}, nil
}

func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// EnsureCollection creates the named collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", domain.ErrVectorStoreFailed, err)
	}
	for _, col := range listResp.Collections {
		if col.Name == name {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.vectorSize,
					Distance: defaultDistance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrVectorStoreFailed, name, err)
	}
	s.logger.Info("created collection", "name", name, "vector_size", s.vectorSize)
	return nil
}

// DeleteCollection drops the named collection entirely.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", domain.ErrVectorStoreFailed, name, err)
	}
	return nil
}

// PointID derives the deterministic point id for a chunk digest, making
// repeated upserts of the same chunk idempotent.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// AddEmbeddings upserts one point per chunk. vectors is index-aligned
// with chunks; nil vectors (failed embedding batches) are skipped.
func (s *Store) AddEmbeddings(ctx context.Context, collection string, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", domain.ErrInvalidInput, len(chunks), len(vectors))
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		if vectors[i] == nil {
			continue
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(chunk.ChunkID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: map[string]*pb.Value{
				"source_id":  {Kind: &pb.Value_IntegerValue{IntegerValue: chunk.SourceID}},
				"session_id": {Kind: &pb.Value_StringValue{StringValue: chunk.SessionID}},
				"chunk_id":   {Kind: &pb.Value_StringValue{StringValue: chunk.ChunkID}},
				"content":    {Kind: &pb.Value_StringValue{StringValue: chunk.Content}},
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert points: %v", domain.ErrVectorStoreFailed, err)
	}
	return nil
}

// QueryEmbeddings is dense-only ANN search filtered by session and an
// optional source-id set.
func (s *Store) QueryEmbeddings(ctx context.Context, collection string, vector []float32, topK int, sessionID string, sourceIDs []int64) ([]domain.ScoredChunk, error) {
	searchResp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Filter:         scopeFilter(sessionID, sourceIDs, ""),
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrVectorStoreFailed, err)
	}

	results := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, point := range searchResp.Result {
		results = append(results, domain.ScoredChunk{
			Chunk: chunkFromPayload(point.Payload),
			Score: float64(point.Score),
		})
	}
	return results, nil
}

// sparseCandidates scrolls points whose content full-text-matches the
// query. Qdrant returns them unranked; the fusion layer only consumes
// their rank order, which scroll preserves deterministically.
func (s *Store) sparseCandidates(ctx context.Context, collection, text string, limit int, sessionID string, sourceIDs []int64) ([]domain.ScoredChunk, error) {
	lim := uint32(limit)
	scrollResp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         scopeFilter(sessionID, sourceIDs, text),
		Limit:          &lim,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll: %v", domain.ErrVectorStoreFailed, err)
	}

	results := make([]domain.ScoredChunk, 0, len(scrollResp.Result))
	for i, point := range scrollResp.Result {
		results = append(results, domain.ScoredChunk{
			Chunk: chunkFromPayload(point.Payload),
			Score: 1.0 / float64(i+1),
		})
	}
	return results, nil
}

// QueryHybrid runs dense ANN and sparse text matching in parallel and
// fuses the two rankings by reciprocal rank. A sparse failure degrades
// to dense-only rather than failing the query.
func (s *Store) QueryHybrid(ctx context.Context, collection, text string, vector []float32, topK int, sessionID string, sourceIDs []int64, kDense, kSparse int) ([]domain.ScoredChunk, error) {
	type branch struct {
		chunks []domain.ScoredChunk
		err    error
	}
	denseCh := make(chan branch, 1)
	sparseCh := make(chan branch, 1)

	go func() {
		chunks, err := s.QueryEmbeddings(ctx, collection, vector, kDense, sessionID, sourceIDs)
		denseCh <- branch{chunks, err}
	}()
	go func() {
		chunks, err := s.sparseCandidates(ctx, collection, text, kSparse, sessionID, sourceIDs)
		sparseCh <- branch{chunks, err}
	}()

	dense := <-denseCh
	sparse := <-sparseCh

	if dense.err != nil {
		return nil, dense.err
	}
	if sparse.err != nil {
		s.logger.Warn("sparse branch failed, dense-only results", "error", sparse.err)
		sparse.chunks = nil
	}

	return fuseRRF(dense.chunks, sparse.chunks, topK), nil
}

// DeleteBySourceIDs removes every point belonging to the given sources.
func (s *Store) DeleteBySourceIDs(ctx context.Context, collection string, sourceIDs []int64) error {
	if len(sourceIDs) == 0 {
		return nil
	}

	conditions := make([]*pb.Condition, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		conditions = append(conditions, sourceCondition(id))
	}

	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Should: conditions},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: delete by source ids: %v", domain.ErrVectorStoreFailed, err)
	}
	return nil
}

// Count returns the exact number of points stored for one source.
func (s *Store) Count(ctx context.Context, collection string, sourceID int64) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{sourceCondition(sourceID)}},
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count points: %v", domain.ErrVectorStoreFailed, err)
	}
	if resp.Result == nil {
		return 0, nil
	}
	return int64(resp.Result.Count), nil
}

func sourceCondition(sourceID int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: "source_id",
				Match: &pb.Match{
					MatchValue: &pb.Match_Integer{Integer: sourceID},
				},
			},
		},
	}
}

// scopeFilter narrows a query to one session, an optional source-id
// set, and (for sparse matching) full-text content match.
func scopeFilter(sessionID string, sourceIDs []int64, text string) *pb.Filter {
	var must []*pb.Condition
	if sessionID != "" {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "session_id",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: sessionID},
					},
				},
			},
		})
	}
	if text != "" {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "content",
					Match: &pb.Match{
						MatchValue: &pb.Match_Text{Text: text},
					},
				},
			},
		})
	}

	var should []*pb.Condition
	for _, id := range sourceIDs {
		should = append(should, sourceCondition(id))
	}

	if len(must) == 0 && len(should) == 0 {
		return nil
	}
	return &pb.Filter{Must: must, Should: should}
}

func chunkFromPayload(payload map[string]*pb.Value) domain.Chunk {
	chunk := domain.Chunk{}
	if payload == nil {
		return chunk
	}
	if v, ok := payload["content"]; ok {
		chunk.Content = v.GetStringValue()
	}
	if v, ok := payload["chunk_id"]; ok {
		chunk.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["session_id"]; ok {
		chunk.SessionID = v.GetStringValue()
	}
	if v, ok := payload["source_id"]; ok {
		chunk.SourceID = v.GetIntegerValue()
	}
	return chunk
}
