package db

import "fmt"

// SchemaSQL builds the schema for the document index. The embedding
// dimension must match the configured embedder.
func SchemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS doc_type ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS repo_url ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS repo_name ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS location ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON document TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS file_path ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS commit_sha ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS issue_number ON document TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS pr_number ON document TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS chunk_index ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_type ON document FIELDS doc_type;
    DEFINE INDEX IF NOT EXISTS document_repo ON document FIELDS repo_url;
    DEFINE INDEX IF NOT EXISTS document_embedding ON document FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS document_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS document_content_ft ON document FIELDS content FULLTEXT ANALYZER document_analyzer BM25;
`, embeddingDim)
}
