// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package usage records one ledger entry per LLM call. It supports both
// JSON-lines file and SQLite storage. The ledger is append-only from the
// request path; reads are for reporting.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/vin-valuation/internal/pricing"
)

const (
	StorageTypeFile   = "file"
	StorageTypeSQLite = "sqlite"
)

// ErrReportingUnsupported is returned by reads against file storage.
var ErrReportingUnsupported = errors.New("usage reporting requires sqlite storage")

// Operations recorded in the ledger
const (
	OperationValuation = "valuation"
	OperationConsensus = "consensus"
)

// Entry is one priced LLM call.
type Entry struct {
	ID                    string          `json:"id"`
	RequestID             string          `json:"request_id,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
	Operation             string          `json:"operation"`
	Provider              string          `json:"provider"`
	Model                 string          `json:"model"`
	VIN                   string          `json:"vin,omitempty"`
	Vehicle               string          `json:"vehicle,omitempty"`
	Condition             string          `json:"condition,omitempty"`
	EstimatedInputTokens  int             `json:"estimated_input_tokens"`
	EstimatedOutputTokens int             `json:"estimated_output_tokens"`
	InputTokens           int             `json:"input_tokens"`
	OutputTokens          int             `json:"output_tokens"`
	ProviderReported      bool            `json:"provider_reported"`
	EstimatedCost         decimal.Decimal `json:"estimated_cost"`
	Cost                  decimal.Decimal `json:"cost"`
}

// FromRecord builds an entry from a priced usage record.
func FromRecord(rec pricing.UsageRecord) Entry {
	return Entry{
		Timestamp:             rec.Timestamp,
		Provider:              rec.Provider,
		Model:                 rec.Model,
		EstimatedInputTokens:  rec.EstimatedInputTokens,
		EstimatedOutputTokens: rec.EstimatedOutputTokens,
		InputTokens:           rec.Cost.InputTokens,
		OutputTokens:          rec.Cost.OutputTokens,
		ProviderReported:      rec.ActualInputTokens != nil,
		EstimatedCost:         rec.EstimatedCost,
		Cost:                  rec.Cost.TotalCost,
	}
}

// ModelSummary aggregates entries for one provider and model.
type ModelSummary struct {
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Calls        int             `json:"calls"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	Calls     int             `json:"calls"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Models    []ModelSummary  `json:"models"`
}

// Config holds configuration for the ledger
type Config struct {
	StorageType string `json:"storage_type"` // StorageTypeFile or StorageTypeSQLite
	FilePath    string `json:"file_path"`
	DBPath      string `json:"db_path"`
}

// Ledger writes usage entries to a storage backend.
type Ledger struct {
	config Config
	logger *zap.Logger
	db     *sql.DB
	mu     sync.RWMutex
}

// NewLedger opens the configured backend, creating files and tables as needed.
func NewLedger(config Config, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		config: config,
		logger: logger,
	}

	switch config.StorageType {
	case StorageTypeFile:
		if err := l.initFileStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
	case StorageTypeSQLite:
		if err := l.initSQLiteStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return l, nil
}

func (l *Ledger) initFileStorage() error {
	dir := filepath.Dir(l.config.FilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create usage directory: %w", err)
	}

	if _, err := os.Stat(l.config.FilePath); os.IsNotExist(err) {
		file, err := os.Create(l.config.FilePath)
		if err != nil {
			return fmt.Errorf("failed to create usage file: %w", err)
		}
		_ = file.Close()
	}

	return nil
}

func (l *Ledger) initSQLiteStorage() error {
	dir := filepath.Dir(l.config.DBPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create usage database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", l.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS usage (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			timestamp DATETIME NOT NULL,
			operation TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			vin TEXT,
			vehicle TEXT,
			condition TEXT,
			estimated_input_tokens INTEGER NOT NULL,
			estimated_output_tokens INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			provider_reported BOOLEAN NOT NULL,
			estimated_cost TEXT NOT NULL,
			cost TEXT NOT NULL
		);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create usage table: %w", err)
	}

	l.db = db
	return nil
}

// Record appends entry, assigning an ID and timestamp when missing.
func (l *Ledger) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	switch l.config.StorageType {
	case StorageTypeFile:
		return l.writeFile(entry)
	case StorageTypeSQLite:
		return l.writeSQLite(entry)
	default:
		return fmt.Errorf("unsupported storage type: %s", l.config.StorageType)
	}
}

func (l *Ledger) writeFile(entry Entry) error {
	file, err := os.OpenFile(l.config.FilePath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open usage file: %w", err)
	}
	defer func() { _ = file.Close() }()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal usage entry: %w", err)
	}

	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write usage entry to file: %w", err)
	}

	l.logger.Debug("Usage recorded to file",
		zap.String("id", entry.ID),
		zap.String("provider", entry.Provider),
		zap.String("cost", entry.Cost.StringFixed(6)))

	return nil
}

func (l *Ledger) writeSQLite(entry Entry) error {
	if l.db == nil {
		return fmt.Errorf("SQLite database not initialized")
	}

	insertSQL := `
		INSERT INTO usage (id, request_id, timestamp, operation, provider, model, vin, vehicle, condition,
			estimated_input_tokens, estimated_output_tokens, input_tokens, output_tokens,
			provider_reported, estimated_cost, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.Exec(insertSQL,
		entry.ID,
		entry.RequestID,
		entry.Timestamp,
		entry.Operation,
		entry.Provider,
		entry.Model,
		entry.VIN,
		entry.Vehicle,
		entry.Condition,
		entry.EstimatedInputTokens,
		entry.EstimatedOutputTokens,
		entry.InputTokens,
		entry.OutputTokens,
		entry.ProviderReported,
		entry.EstimatedCost.String(),
		entry.Cost.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage entry into SQLite: %w", err)
	}

	l.logger.Debug("Usage recorded to SQLite",
		zap.String("id", entry.ID),
		zap.String("provider", entry.Provider),
		zap.String("cost", entry.Cost.StringFixed(6)))

	return nil
}

// Recent returns the newest entries, newest first (SQLite only).
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	if l.config.StorageType != StorageTypeSQLite {
		return nil, ErrReportingUnsupported
	}
	if l.db == nil {
		return nil, fmt.Errorf("SQLite database not initialized")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `
		SELECT id, request_id, timestamp, operation, provider, model, vin, vehicle, condition,
			estimated_input_tokens, estimated_output_tokens, input_tokens, output_tokens,
			provider_reported, estimated_cost, cost
		FROM usage
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := l.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		var requestID, vin, vehicleDesc, condition sql.NullString
		var estimatedCost, cost string

		err := rows.Scan(
			&entry.ID,
			&requestID,
			&entry.Timestamp,
			&entry.Operation,
			&entry.Provider,
			&entry.Model,
			&vin,
			&vehicleDesc,
			&condition,
			&entry.EstimatedInputTokens,
			&entry.EstimatedOutputTokens,
			&entry.InputTokens,
			&entry.OutputTokens,
			&entry.ProviderReported,
			&estimatedCost,
			&cost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}

		entry.RequestID = requestID.String
		entry.VIN = vin.String
		entry.Vehicle = vehicleDesc.String
		entry.Condition = condition.String
		if entry.EstimatedCost, err = decimal.NewFromString(estimatedCost); err != nil {
			return nil, fmt.Errorf("invalid estimated cost in usage row %s: %w", entry.ID, err)
		}
		if entry.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("invalid cost in usage row %s: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage rows: %w", err)
	}

	return entries, nil
}

// Summary totals calls, tokens and cost per provider and model (SQLite only).
// Costs are summed as decimals.
func (l *Ledger) Summary() (Summary, error) {
	if l.config.StorageType != StorageTypeSQLite {
		return Summary{}, ErrReportingUnsupported
	}
	if l.db == nil {
		return Summary{}, fmt.Errorf("SQLite database not initialized")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`SELECT provider, model, input_tokens, output_tokens, cost FROM usage`)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byModel := make(map[string]*ModelSummary)
	summary := Summary{TotalCost: decimal.Zero, Models: []ModelSummary{}}

	for rows.Next() {
		var providerName, model, costText string
		var in, out int
		if err := rows.Scan(&providerName, &model, &in, &out, &costText); err != nil {
			return Summary{}, fmt.Errorf("failed to scan usage summary row: %w", err)
		}
		cost, err := decimal.NewFromString(costText)
		if err != nil {
			return Summary{}, fmt.Errorf("invalid cost in usage ledger: %w", err)
		}

		key := providerName + "/" + model
		ms, ok := byModel[key]
		if !ok {
			ms = &ModelSummary{Provider: providerName, Model: model, Cost: decimal.Zero}
			byModel[key] = ms
		}
		ms.Calls++
		ms.InputTokens += in
		ms.OutputTokens += out
		ms.Cost = ms.Cost.Add(cost)

		summary.Calls++
		summary.TotalCost = summary.TotalCost.Add(cost)
	}

	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("failed to iterate usage summary rows: %w", err)
	}

	for _, ms := range byModel {
		summary.Models = append(summary.Models, *ms)
	}
	sort.Slice(summary.Models, func(i, j int) bool {
		if summary.Models[i].Provider != summary.Models[j].Provider {
			return summary.Models[i].Provider < summary.Models[j].Provider
		}
		return summary.Models[i].Model < summary.Models[j].Model
	})

	return summary, nil
}

// Ping checks that the backend is writable.
func (l *Ledger) Ping(ctx context.Context) error {
	if l.db != nil {
		return l.db.PingContext(ctx)
	}
	f, err := os.OpenFile(l.config.FilePath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// StorageType reports the configured backend.
func (l *Ledger) StorageType() string {
	return l.config.StorageType
}

// Close closes the ledger and any open resources
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		return l.db.Close()
	}

	return nil
}
