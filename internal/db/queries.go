// Package db provides SurrealDB query functions for the document index.
package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// IndexedDocument is the wire shape of a document in the index.
type IndexedDocument struct {
	ID          string    `json:"id,omitempty"`
	DocType     string    `json:"doc_type"`
	RepoURL     string    `json:"repo_url"`
	RepoName    string    `json:"repo_name"`
	Content     string    `json:"content"`
	Location    string    `json:"location"`
	Embedding   []float32 `json:"embedding"`
	FilePath    *string   `json:"file_path,omitempty"`
	CommitSHA   *string   `json:"commit_sha,omitempty"`
	IssueNumber *int      `json:"issue_number,omitempty"`
	PRNumber    *int      `json:"pr_number,omitempty"`
	ChunkIndex  int       `json:"chunk_index"`
}

// ScoredDocument is a retrieval hit with its similarity score.
type ScoredDocument struct {
	DocID    string  `json:"doc_id"`
	DocType  string  `json:"doc_type"`
	RepoURL  string  `json:"repo_url"`
	RepoName string  `json:"repo_name"`
	Content  string  `json:"content"`
	Location string  `json:"location"`
	Score    float64 `json:"score"`
}

// QueryUpsertDocument writes one document into the index. Deterministic
// IDs make this idempotent across re-ingestions.
func (c *Client) QueryUpsertDocument(ctx context.Context, docID string, doc IndexedDocument) error {
	sql := `
		UPSERT type::record("document", $id) SET
			doc_type = $doc_type,
			repo_url = $repo_url,
			repo_name = $repo_name,
			content = $content,
			location = $location,
			embedding = $embedding,
			file_path = $file_path,
			commit_sha = $commit_sha,
			issue_number = $issue_number,
			pr_number = $pr_number,
			chunk_index = $chunk_index,
			updated = time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":           docID,
		"doc_type":     doc.DocType,
		"repo_url":     doc.RepoURL,
		"repo_name":    doc.RepoName,
		"content":      doc.Content,
		"location":     doc.Location,
		"embedding":    doc.Embedding,
		"file_path":    doc.FilePath,
		"commit_sha":   doc.CommitSHA,
		"issue_number": doc.IssueNumber,
		"pr_number":    doc.PRNumber,
		"chunk_index":  doc.ChunkIndex,
	})
	if err != nil {
		return wrapQueryError(fmt.Errorf("upsert document: %w", err))
	}
	return nil
}

// QueryVectorSearch runs a KNN search over document embeddings,
// optionally filtered by document type and repository.
func (c *Client) QueryVectorSearch(
	ctx context.Context,
	embedding []float32,
	limit int,
	docType *string,
	repoURL *string,
) ([]ScoredDocument, error) {
	typeClause := ""
	if docType != nil {
		typeClause = "AND doc_type = $doc_type"
	}
	repoClause := ""
	if repoURL != nil {
		repoClause = "AND repo_url = $repo_url"
	}

	// HNSW with ef=40 for better recall.
	sql := fmt.Sprintf(`
		SELECT
			record::id(id) AS doc_id,
			doc_type, repo_url, repo_name, content, location,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM document
		WHERE embedding <|%d,40|> $emb %s %s
		ORDER BY score DESC
	`, limit, typeClause, repoClause)

	vars := map[string]any{"emb": embedding}
	if docType != nil {
		vars["doc_type"] = *docType
	}
	if repoURL != nil {
		vars["repo_url"] = *repoURL
	}

	results, err := surrealdb.Query[[]ScoredDocument](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []ScoredDocument{}, nil
}

// QueryDeleteRepository removes every document for one repository.
// Returns the number of deleted records.
func (c *Client) QueryDeleteRepository(ctx context.Context, repoURL string) (int, error) {
	sql := `DELETE document WHERE repo_url = $repo_url RETURN BEFORE`
	results, err := surrealdb.Query[[]struct {
		ID any `json:"id"`
	}](ctx, c.db, sql, map[string]any{"repo_url": repoURL})
	if err != nil {
		return 0, wrapQueryError(fmt.Errorf("delete repository documents: %w", err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// QueryCountDocuments counts indexed documents for one repository.
func (c *Client) QueryCountDocuments(ctx context.Context, repoURL string) (int, error) {
	sql := `SELECT count() AS c FROM document WHERE repo_url = $repo_url GROUP ALL`
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, c.db, sql, map[string]any{"repo_url": repoURL})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
