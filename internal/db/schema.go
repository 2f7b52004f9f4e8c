package db

// SchemaSQL defines the block and run tables.
const SchemaSQL = `
    -- ==========================================================================
    -- RUN TABLE (one row per pipeline run)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON run TYPE string;
    DEFINE FIELD IF NOT EXISTS profile ON run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS inputs ON run TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS stats ON run TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completed_at ON run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS run_started ON run FIELDS started_at;

    -- ==========================================================================
    -- BLOCK TABLE (kept text blocks, keyed by run and block id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS block SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run_id ON block TYPE string;
    DEFINE FIELD IF NOT EXISTS block_id ON block TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON block TYPE int;
    DEFINE FIELD IF NOT EXISTS source ON block TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS text ON block TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON block TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS block_run_seq ON block FIELDS run_id, seq;
    DEFINE ANALYZER IF NOT EXISTS block_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS block_text_ft ON block FIELDS text FULLTEXT ANALYZER block_analyzer BM25;
`
