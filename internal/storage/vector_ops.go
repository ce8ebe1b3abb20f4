package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// searchVector ranks the documents of an index by cosine similarity to queryVector
func searchVector(ctx context.Context, db *sql.DB, index string, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, index, queryVector, limit, filters)
	}
	return searchVectorFallback(ctx, db, index, queryVector, limit, filters)
}

// searchVectorOptimized computes distances in SQL with sqlite-vec.
// vec_distance_cosine returns a distance, so similarity is 1 - distance.
func searchVectorOptimized(ctx context.Context, db *sql.DB, index string, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	blob := serializeVector(queryVector)

	query := `
		SELECT d.id, 1.0 - vec_distance_cosine(d.embedding, ?) AS similarity
		FROM documents d
		WHERE d.index_name = ? AND d.embedding IS NOT NULL AND d.dimension = ?
	`
	args := []interface{}{blob, index, len(queryVector)}
	query, args = applyFilters(query, args, filters)

	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(d.embedding, ?)) >= ?"
		args = append(args, blob, filters.MinRelevance)
	}
	query += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.DocumentID, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback loads candidate vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, db *sql.DB, index string, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `
		SELECT d.id, d.embedding
		FROM documents d
		WHERE d.index_name = ? AND d.embedding IS NOT NULL AND d.dimension = ?
	`
	args := []interface{}{index, len(queryVector)}
	query, args = applyFilters(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	return buildVectorResults(candidates, limit), nil
}

// searchText performs BM25 full-text search over document content and titles
func searchText(ctx context.Context, db *sql.DB, index string, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, fmt.Errorf("empty search query")
	}

	sqlQuery := `
		SELECT d.id, bm25(documents_fts) AS score
		FROM documents_fts
		INNER JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.index_name = ?
	`
	args := []interface{}{match, index}
	sqlQuery, args = applyFilters(sqlQuery, args, filters)

	// bm25 is negative, lower is better
	sqlQuery += " ORDER BY score"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, filters)
}

// applyFilters adds WHERE clause filters on the documents alias d
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}
	if filters.Language != "" {
		query += " AND d.language = ?"
		args = append(args, filters.Language)
	}
	if filters.FilePattern != "" {
		query += " AND d.filepath GLOB ?"
		args = append(args, filters.FilePattern)
	}
	return query, args
}

func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}
		similarity := cosineSimilarity(queryVector, vector)
		if filters != nil && filters.MinRelevance > 0 && similarity < filters.MinRelevance {
			continue
		}
		candidates = append(candidates, candidate{id: id, score: similarity})
	}
	return candidates, rows.Err()
}

// buildVectorResults returns the top limit candidates; limit <= 0 returns all
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{DocumentID: candidates[i].id, SimilarityScore: candidates[i].score}
	}
	return results
}

// collectTextResults normalizes BM25 scores into (0, 1]
func collectTextResults(rows *sql.Rows, filters *SearchFilters) ([]TextResult, error) {
	results := make([]TextResult, 0)
	for rows.Next() {
		var r TextResult
		if err := rows.Scan(&r.DocumentID, &r.BM25Score); err != nil {
			return nil, err
		}
		r.BM25Score = 1.0 / (1.0 + math.Abs(r.BM25Score)/50.0)
		if filters != nil && filters.MinRelevance > 0 && r.BM25Score < filters.MinRelevance {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// serializeVector converts a float32 slice to a little-endian byte blob
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type candidate struct {
	id    string
	score float64
}

// sortCandidates orders by score descending, ties by id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// sanitizeFTSQuery turns free text into an FTS5 query of quoted terms, so
// operators and punctuation in user input are matched literally. Terms are
// ORed together.
func sanitizeFTSQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_' && r != '-' && r != '\''
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "-'")
		if w == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SerializeVector encodes a vector the way documents store it
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a stored vector blob
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity returns the cosine similarity of two vectors, 0 when
// their lengths differ or either is zero
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
