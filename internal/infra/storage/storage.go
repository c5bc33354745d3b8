// Package storage provides SQLite-based persistence for the core.
// Uses WAL mode for concurrent reads and crash-safe, single-writer writes.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/corefabric/proxy/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations. It implements
// domain.Store.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; one connection keeps every write serialized
	// per spec §4.7's "single-writer-per-table" requirement trivially true.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping() error { return d.db.Ping() }

// migrate runs idempotent schema migrations covering the eight logical
// tables of spec §4.7.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id            TEXT PRIMARY KEY,
			type               TEXT NOT NULL,
			address            TEXT NOT NULL,
			cpu_cores          INTEGER NOT NULL,
			memory_bytes       INTEGER NOT NULL,
			has_gpu            BOOLEAN NOT NULL DEFAULT 0,
			cost_per_hour      REAL NOT NULL DEFAULT 0,
			status             TEXT NOT NULL,
			availability_score REAL NOT NULL DEFAULT 1,
			registered_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resource_states (
			node_id          TEXT NOT NULL,
			ts               INTEGER NOT NULL,
			cpu_pct          REAL NOT NULL,
			memory_pct       REAL NOT NULL,
			disk_pct         REAL NOT NULL,
			network_bytes    INTEGER NOT NULL,
			gpu_pct          REAL NOT NULL DEFAULT 0,
			active_processes INTEGER NOT NULL,
			PRIMARY KEY (node_id, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resource_states_node_ts ON resource_states(node_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS intent_nodes (
			node_id        TEXT PRIMARY KEY,
			intent_type    TEXT NOT NULL,
			description    TEXT NOT NULL,
			prior          REAL NOT NULL,
			posterior      REAL NOT NULL,
			evidence_count INTEGER NOT NULL DEFAULT 0,
			confidence     REAL NOT NULL DEFAULT 0,
			last_updated   INTEGER NOT NULL,
			metadata       TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS intent_edges (
			source_id     TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			cond_prob     REAL NOT NULL,
			strength      REAL NOT NULL,
			evidence_count INTEGER NOT NULL DEFAULT 0,
			last_updated  INTEGER NOT NULL,
			PRIMARY KEY (source_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS intent_evidence (
			ts              INTEGER NOT NULL,
			evidence_type   TEXT NOT NULL,
			anonymized_hash TEXT NOT NULL,
			source          TEXT NOT NULL,
			PRIMARY KEY (ts, anonymized_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intent_evidence_ts ON intent_evidence(ts)`,
		`CREATE TABLE IF NOT EXISTS resource_predictions (
			prediction_id    TEXT PRIMARY KEY,
			ts               INTEGER NOT NULL,
			node_id          TEXT NOT NULL,
			horizon_minutes  INTEGER NOT NULL,
			predicted        TEXT NOT NULL,
			confidence       REAL NOT NULL,
			factors          TEXT NOT NULL DEFAULT '[]',
			actual_filled    BOOLEAN NOT NULL DEFAULT 0,
			actual           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_node_ts ON resource_predictions(node_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS allocation_decisions (
			decision_id     TEXT PRIMARY KEY,
			ts              INTEGER NOT NULL,
			node_id         TEXT NOT NULL,
			action          TEXT NOT NULL,
			changes         TEXT NOT NULL DEFAULT '{}',
			expected_impact TEXT NOT NULL DEFAULT '{}',
			priority        INTEGER NOT NULL,
			estimated_cost  REAL NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			actual_impact   TEXT,
			success_score   REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_node_status ON allocation_decisions(node_id, status)`,
		`CREATE TABLE IF NOT EXISTS rl_experiences (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			state      TEXT NOT NULL,
			action     TEXT NOT NULL,
			reward     REAL NOT NULL,
			next_state TEXT NOT NULL,
			terminal   BOOLEAN NOT NULL DEFAULT 0,
			ts         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiences_ts ON rl_experiences(ts DESC)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Nodes ──────────────────────────────────────────────────────────────────

// UpsertNode inserts or updates a node record.
func (d *DB) UpsertNode(n domain.Node) error {
	_, err := d.db.Exec(
		`INSERT INTO nodes (node_id, type, address, cpu_cores, memory_bytes, has_gpu, cost_per_hour, status, availability_score, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
			type=excluded.type, address=excluded.address, cpu_cores=excluded.cpu_cores,
			memory_bytes=excluded.memory_bytes, has_gpu=excluded.has_gpu,
			cost_per_hour=excluded.cost_per_hour, status=excluded.status,
			availability_score=excluded.availability_score`,
		n.ID, n.Type, n.Address, n.Capabilities.CPUCores, n.Capabilities.MemoryBytes,
		n.Capabilities.HasGPU, n.CostPerHour, n.Status, n.AvailabilityScore, n.RegisteredAt.Unix(),
	)
	return err
}

// GetNode retrieves a single node by ID.
func (d *DB) GetNode(id string) (*domain.Node, error) {
	row := d.db.QueryRow(
		`SELECT node_id, type, address, cpu_cores, memory_bytes, has_gpu, cost_per_hour, status, availability_score, registered_at
		 FROM nodes WHERE node_id = ?`, id,
	)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNodeNotFound
	}
	return n, err
}

// ListNodes returns every registered node.
func (d *DB) ListNodes() ([]domain.Node, error) {
	rows, err := d.db.Query(
		`SELECT node_id, type, address, cpu_cores, memory_bytes, has_gpu, cost_per_hour, status, availability_score, registered_at
		 FROM nodes ORDER BY registered_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (*domain.Node, error) {
	var n domain.Node
	var registeredAt int64
	err := s.Scan(&n.ID, &n.Type, &n.Address, &n.Capabilities.CPUCores, &n.Capabilities.MemoryBytes,
		&n.Capabilities.HasGPU, &n.CostPerHour, &n.Status, &n.AvailabilityScore, &registeredAt)
	if err != nil {
		return nil, err
	}
	n.RegisteredAt = time.Unix(registeredAt, 0)
	return &n, nil
}

// ─── Resource States ────────────────────────────────────────────────────────

// AppendResourceState inserts one telemetry sample. Samples are append-only.
func (d *DB) AppendResourceState(s domain.ResourceState) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO resource_states (node_id, ts, cpu_pct, memory_pct, disk_pct, network_bytes, gpu_pct, active_processes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.NodeID, s.Timestamp, s.CPUPercent, s.MemoryPercent, s.DiskPercent, s.NetworkBytes, s.GPUPercent, s.ActiveProcesses,
	)
	return err
}

// RecentResourceStates returns the most recent limit samples for a node,
// oldest first.
func (d *DB) RecentResourceStates(nodeID string, limit int) ([]domain.ResourceState, error) {
	rows, err := d.db.Query(
		`SELECT node_id, ts, cpu_pct, memory_pct, disk_pct, network_bytes, gpu_pct, active_processes
		 FROM resource_states WHERE node_id = ? ORDER BY ts DESC LIMIT ?`, nodeID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.ResourceState
	for rows.Next() {
		var s domain.ResourceState
		if err := rows.Scan(&s.NodeID, &s.Timestamp, &s.CPUPercent, &s.MemoryPercent, &s.DiskPercent,
			&s.NetworkBytes, &s.GPUPercent, &s.ActiveProcesses); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first — callers do trend extrapolation over time order.
	for i, j := 0, len(states)-1; i < j; i, j = i+1, j-1 {
		states[i], states[j] = states[j], states[i]
	}
	return states, nil
}

// ─── Intent Nodes & Edges ───────────────────────────────────────────────────

// UpsertIntentNode inserts or updates an intent node.
func (d *DB) UpsertIntentNode(n domain.IntentNode) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO intent_nodes (node_id, intent_type, description, prior, posterior, evidence_count, confidence, last_updated, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
			posterior=excluded.posterior, evidence_count=excluded.evidence_count,
			confidence=excluded.confidence, last_updated=excluded.last_updated, metadata=excluded.metadata`,
		n.ID, n.IntentType, n.Description, n.Prior, n.Posterior, n.EvidenceCount, n.Confidence, n.LastUpdated.Unix(), string(meta),
	)
	return err
}

// DeleteIntentNode removes an intent node (pruning).
func (d *DB) DeleteIntentNode(id string) error {
	_, err := d.db.Exec(`DELETE FROM intent_nodes WHERE node_id = ?`, id)
	return err
}

// ListIntentNodes returns every intent node — used to rehydrate the graph
// on restart.
func (d *DB) ListIntentNodes() ([]domain.IntentNode, error) {
	rows, err := d.db.Query(
		`SELECT node_id, intent_type, description, prior, posterior, evidence_count, confidence, last_updated, metadata
		 FROM intent_nodes`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.IntentNode
	for rows.Next() {
		var n domain.IntentNode
		var lastUpdated int64
		var meta string
		if err := rows.Scan(&n.ID, &n.IntentType, &n.Description, &n.Prior, &n.Posterior,
			&n.EvidenceCount, &n.Confidence, &lastUpdated, &meta); err != nil {
			return nil, err
		}
		n.LastUpdated = time.Unix(lastUpdated, 0)
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &n.Metadata)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpsertIntentEdge inserts or updates an intent edge.
func (d *DB) UpsertIntentEdge(e domain.IntentEdge) error {
	_, err := d.db.Exec(
		`INSERT INTO intent_edges (source_id, target_id, cond_prob, strength, evidence_count, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id) DO UPDATE SET
			cond_prob=excluded.cond_prob, strength=excluded.strength,
			evidence_count=excluded.evidence_count, last_updated=excluded.last_updated`,
		e.SourceID, e.TargetID, e.ConditionalProbability, e.Strength, e.EvidenceCount, e.LastUpdated.Unix(),
	)
	return err
}

// DeleteIntentEdge removes an edge.
func (d *DB) DeleteIntentEdge(source, target string) error {
	_, err := d.db.Exec(`DELETE FROM intent_edges WHERE source_id = ? AND target_id = ?`, source, target)
	return err
}

// ListIntentEdges returns every intent edge.
func (d *DB) ListIntentEdges() ([]domain.IntentEdge, error) {
	rows, err := d.db.Query(
		`SELECT source_id, target_id, cond_prob, strength, evidence_count, last_updated FROM intent_edges`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.IntentEdge
	for rows.Next() {
		var e domain.IntentEdge
		var lastUpdated int64
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.ConditionalProbability, &e.Strength, &e.EvidenceCount, &lastUpdated); err != nil {
			return nil, err
		}
		e.LastUpdated = time.Unix(lastUpdated, 0)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ─── Evidence ───────────────────────────────────────────────────────────────

// AppendEvidence records one piece of anonymized behavior evidence.
// Idempotent on (timestamp, anonymized hash).
func (d *DB) AppendEvidence(e domain.BehaviorEvidence) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO intent_evidence (ts, evidence_type, anonymized_hash, source)
		 VALUES (?, ?, ?, ?)`,
		e.Timestamp.Unix(), e.EvidenceType, e.AnonymizedHash, e.Source,
	)
	return err
}

// PurgeEvidenceOlderThan deletes evidence rows with ts < cutoffUnix and
// returns the number of rows removed.
func (d *DB) PurgeEvidenceOlderThan(cutoffUnix int64) (int, error) {
	res, err := d.db.Exec(`DELETE FROM intent_evidence WHERE ts < ?`, cutoffUnix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ─── Predictions ────────────────────────────────────────────────────────────

// InsertPrediction records a new resource prediction.
func (d *DB) InsertPrediction(p domain.ResourcePrediction) error {
	predicted, err := json.Marshal(p.Predicted)
	if err != nil {
		return err
	}
	factors, err := json.Marshal(p.ContributingFactors)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`INSERT INTO resource_predictions (prediction_id, ts, node_id, horizon_minutes, predicted, confidence, factors, actual_filled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		p.ID, p.Timestamp.Unix(), p.NodeID, p.HorizonMinutes, string(predicted), p.Confidence, string(factors),
	)
	return err
}

// UpdatePredictionActual backfills the realized resource values once the
// prediction horizon has elapsed.
func (d *DB) UpdatePredictionActual(predictionID string, actual map[string]float64) error {
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`UPDATE resource_predictions SET actual = ?, actual_filled = 1 WHERE prediction_id = ?`,
		string(actualJSON), predictionID,
	)
	return err
}

// DueForReconciliation returns unfilled predictions for nodeID whose horizon
// has elapsed as of now, so the caller can compare them against the actual
// resource state and call UpdatePredictionActual.
func (d *DB) DueForReconciliation(nodeID string, now time.Time) ([]domain.ResourcePrediction, error) {
	rows, err := d.db.Query(
		`SELECT prediction_id, ts, node_id, horizon_minutes, predicted, confidence, factors
		 FROM resource_predictions
		 WHERE node_id = ? AND actual_filled = 0 AND ts + horizon_minutes * 60 <= ?
		 ORDER BY ts ASC`,
		nodeID, now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResourcePrediction
	for rows.Next() {
		var p domain.ResourcePrediction
		var ts int64
		var predictedJSON, factorsJSON string
		if err := rows.Scan(&p.ID, &ts, &p.NodeID, &p.HorizonMinutes, &predictedJSON, &p.Confidence, &factorsJSON); err != nil {
			return nil, err
		}
		p.Timestamp = time.Unix(ts, 0)
		if err := json.Unmarshal([]byte(predictedJSON), &p.Predicted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(factorsJSON), &p.ContributingFactors); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Allocation Decisions ───────────────────────────────────────────────────

// InsertDecision records a new allocation decision in the pending state.
func (d *DB) InsertDecision(dec domain.AllocationDecision) error {
	changes, err := json.Marshal(dec.Changes)
	if err != nil {
		return err
	}
	impact, err := json.Marshal(dec.ExpectedImpact)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`INSERT INTO allocation_decisions (decision_id, ts, node_id, action, changes, expected_impact, priority, estimated_cost, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dec.ID, dec.Timestamp.Unix(), dec.NodeID, dec.Action, string(changes), string(impact), dec.Priority, dec.EstimatedCost, dec.Status,
	)
	return err
}

// UpdateDecisionStatus transitions a decision's state and, for terminal
// states, records the actual impact and success score.
func (d *DB) UpdateDecisionStatus(decisionID string, status domain.DecisionStatus, actualImpact map[string]float64, successScore float64) error {
	var impactJSON *string
	if actualImpact != nil {
		b, err := json.Marshal(actualImpact)
		if err != nil {
			return err
		}
		s := string(b)
		impactJSON = &s
	}
	_, err := d.db.Exec(
		`UPDATE allocation_decisions SET status = ?, actual_impact = ?, success_score = ? WHERE decision_id = ?`,
		status, impactJSON, successScore, decisionID,
	)
	return err
}

// ─── RL Experiences ─────────────────────────────────────────────────────────

// AppendExperience records one Q-learning transition.
func (d *DB) AppendExperience(e domain.RLExperience) error {
	_, err := d.db.Exec(
		`INSERT INTO rl_experiences (state, action, reward, next_state, terminal, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		e.State, e.Action, e.Reward, e.NextState, e.Terminal, e.Timestamp.Unix(),
	)
	return err
}

// RecentExperiences returns the most recent limit experiences, oldest
// first — used to rehydrate the replay buffer on restart (spec §4.7 caps
// this rehydration at 5,000).
func (d *DB) RecentExperiences(limit int) ([]domain.RLExperience, error) {
	rows, err := d.db.Query(
		`SELECT state, action, reward, next_state, terminal, ts FROM rl_experiences ORDER BY ts DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []domain.RLExperience
	for rows.Next() {
		var e domain.RLExperience
		var ts int64
		if err := rows.Scan(&e.State, &e.Action, &e.Reward, &e.NextState, &e.Terminal, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		exps = append(exps, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(exps)-1; i < j; i, j = i+1, j-1 {
		exps[i], exps[j] = exps[j], exps[i]
	}
	return exps, nil
}

var _ domain.Store = (*DB)(nil)
