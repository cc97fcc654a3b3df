package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Forensics Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Coinjoin Forensics Schema initialized")
	return nil
}

// SaveAnalysisResult persists a transaction's heuristic verdict and its
// evidence edges (computed separately by the LLR engine, since CIOH edge
// generation needs the CoinJoin-gating decision from analysis.CoinJoin).
func (s *PostgresStore) SaveAnalysisResult(ctx context.Context, blockHeight int, analysis heuristics.TxAnalysis, edges []models.EvidenceEdge) error {
	// 1. Begin Transaction
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var coinjoinKind string
	if analysis.CoinJoin != nil {
		coinjoinKind = string(analysis.CoinJoin.Kind)
	}

	// 2. Insert main heuristic row
	insertHeuristicSQL := `
		INSERT INTO tx_heuristics (block_height, txid, coinjoin_kind, privacy_score, risk_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (block_height, txid) DO UPDATE
		SET coinjoin_kind = EXCLUDED.coinjoin_kind, privacy_score = EXCLUDED.privacy_score, risk_score = EXCLUDED.risk_score;
	`
	_, err = tx.Exec(ctx, insertHeuristicSQL, blockHeight, analysis.Tx.Txid, coinjoinKind, analysis.Privacy.PrivacyScore, analysis.Threat.RiskScore)
	if err != nil {
		return fmt.Errorf("failed to insert tx_heuristics: %v", err)
	}

	// 3. Batch insert the evidence edges
	if len(edges) > 0 {
		insertEdgeSQL := `
			INSERT INTO evidence_edge
			(created_height, src_node_id, dst_node_id, edge_type, llr_score, dependency_group, snapshot_id, audit_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
		`
		for _, edge := range edges {
			// Extracting the Hex string from our uuid implementation, normally this would be BYTEA
			_, err = tx.Exec(ctx, insertEdgeSQL,
				blockHeight,
				edge.SrcNodeID,
				edge.DstNodeID,
				edge.EdgeType,
				edge.LLRScore,
				edge.DependencyGroup,
				edge.SnapshotID,
				edge.EdgeID, // Using edgeID string as the placeholder for the sha256 byte array in this implementation
			)
			if err != nil {
				return fmt.Errorf("failed to insert evidence edge: %v", err)
			}
		}
	}

	// 4. Commit transaction
	return tx.Commit(ctx)
}

// MixerInfo is a row from the known-CoinJoin index.
type MixerInfo struct {
	BlockHeight int    `json:"blockHeight"`
	Txid        string `json:"txid"`
	MixerType   string `json:"mixerType"`
	PrivacyScore int   `json:"privacyScore"`
}

// GetMixers queries the heuristics table for any known CoinJoin transactions.
func (s *PostgresStore) GetMixers(ctx context.Context, page int, limit int) ([]MixerInfo, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	// Get total count first
	var totalCount int
	countSQL := `SELECT COUNT(*) FROM tx_heuristics WHERE coinjoin_kind IS NOT NULL AND coinjoin_kind NOT IN ('', 'Unknown')`
	err := s.pool.QueryRow(ctx, countSQL).Scan(&totalCount)
	if err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT block_height, txid, coinjoin_kind, privacy_score
		FROM tx_heuristics
		WHERE coinjoin_kind IS NOT NULL AND coinjoin_kind NOT IN ('', 'Unknown')
		ORDER BY block_height DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var mixers []MixerInfo
	for rows.Next() {
		var m MixerInfo
		if err := rows.Scan(&m.BlockHeight, &m.Txid, &m.MixerType, &m.PrivacyScore); err != nil {
			return nil, 0, err
		}
		mixers = append(mixers, m)
	}
	if mixers == nil {
		mixers = []MixerInfo{}
	}
	return mixers, totalCount, nil
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// SaveEndpointSnapshots persists a periodic point-in-time health sample
// of every configured endpoint, feeding a historical view behind the
// live /metrics/mempool snapshot.
func (s *PostgresStore) SaveEndpointSnapshots(ctx context.Context, snapshots []upstream.EndpointSnapshot) error {
	insertSQL := `
		INSERT INTO endpoint_health_snapshots
		(name, base_url, priority, healthy, concurrency_limit, total_successes, total_failures, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, snap := range snapshots {
		_, err := s.pool.Exec(ctx, insertSQL,
			snap.Name, snap.BaseURL, snap.Priority, snap.Healthy,
			snap.ConcurrencyLimit, snap.TotalSuccesses, snap.TotalFailures, snap.ConsecutiveFailures)
		if err != nil {
			return fmt.Errorf("saving snapshot for %s: %w", snap.Name, err)
		}
	}
	return nil
}
