package repository

// Schema definitions for Fraudlens database.
// Compatible with both SQLite and PostgreSQL.

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT,
    prediction INTEGER NOT NULL,
    hybrid_score REAL NOT NULL,
    threshold_used REAL NOT NULL,
    config_version INTEGER NOT NULL,
    result TEXT NOT NULL,
    features TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_tenant ON predictions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_fraud ON predictions(tenant_id, prediction);
`

// schemaEnsembleConfigs keeps every ensemble config version per tenant.
// The highest version is the active one.
const schemaEnsembleConfigs = `
CREATE TABLE IF NOT EXISTS ensemble_configs (
    tenant_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    iso_weight REAL NOT NULL,
    xgb_weight REAL NOT NULL,
    threshold REAL NOT NULL,
    f1_score REAL NOT NULL DEFAULT 0,
    precision_score REAL NOT NULL DEFAULT 0,
    recall_score REAL NOT NULL DEFAULT 0,
    metrics TEXT,
    source TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_ensemble_configs_tenant ON ensemble_configs(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPredictions,
		schemaEnsembleConfigs,
	}
}
