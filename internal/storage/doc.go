// Package storage is the SQLite-backed local search index and ingestion run
// ledger.
//
// # Database Schema
//
// Tables:
//   - indexes: index names and their field schema (JSON)
//   - documents: indexed chunks keyed by (index, chunk id), with the
//     embedding stored as a little-endian float32 blob
//   - documents_fts: FTS5 index over content and title, kept in sync by
//     triggers
//   - runs, run_files: one row per ingestion run and per processed file
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("ragingest.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.CreateIndex(ctx, &storage.IndexDefinition{Name: "docs", Fields: fields})
//	results, err := db.UpsertDocuments(ctx, "docs", docs)
//	for _, r := range results {
//	    if !r.Status {
//	        log.Printf("%s: %d %s", r.Key, r.StatusCode, r.ErrorMessage)
//	    }
//	}
//
// Upserts are keyed by document id, so re-ingesting a file replaces its
// chunks instead of duplicating them. A document whose embedding length
// differs from the index's vector field is rejected with status 400 while
// the rest of the batch is written.
//
// # Search
//
// SearchVector ranks by cosine similarity. SearchText ranks by BM25, with
// scores normalized to (0, 1]. Both accept a language and a file glob filter.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and computes similarity in Go.
// Building with the sqlite_vec tag switches to github.com/mattn/go-sqlite3
// and computes distances in SQL:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
package storage
