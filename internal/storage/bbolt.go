// Package storage wraps the embedded bbolt database shared by the usage
// statistics and the scheduler's job store. One database file per state
// directory; each component owns its buckets.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Bucket names.
const (
	ToolStatsBucket  = "tool_stats"
	JobsBucket       = "jobs"
	ExecutionsBucket = "executions"
	MetaBucket       = "meta"
)

const schemaVersionKey = "schema_version"
const schemaVersion = 1

// BoltDB wraps bolt database operations.
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the state database under dataDir.
func Open(dataDir string, logger *zap.Logger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, "toolgate.db")

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return b, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// DB exposes the underlying handle for components that own their buckets.
func (b *BoltDB) DB() *bbolt.DB {
	return b.db
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{ToolStatsBucket, JobsBucket, ExecutionsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		if meta.Get([]byte(schemaVersionKey)) == nil {
			return meta.Put([]byte(schemaVersionKey), []byte(fmt.Sprint(schemaVersion)))
		}
		return nil
	})
}

// ToolStatRecord counts invocations of one tool.
type ToolStatRecord struct {
	ToolID    string    `json:"tool_id"`
	Count     uint64    `json:"count"`
	LastUsed  time.Time `json:"last_used"`
	LastError string    `json:"last_error,omitempty"`
}

// IncrementToolStats bumps a tool's invocation counter. errMsg is recorded
// when the call failed.
func (b *BoltDB) IncrementToolStats(toolID, errMsg string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolStatsBucket))

		record := &ToolStatRecord{ToolID: toolID}
		if data := bucket.Get([]byte(toolID)); data != nil {
			if err := json.Unmarshal(data, record); err != nil {
				b.logger.Warn("Resetting corrupt tool stat record",
					zap.String("tool_id", toolID), zap.Error(err))
				record = &ToolStatRecord{ToolID: toolID}
			}
		}
		record.Count++
		record.LastUsed = time.Now().UTC()
		record.LastError = errMsg

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal tool stat: %w", err)
		}
		return bucket.Put([]byte(toolID), data)
	})
}

// GetToolStats returns one tool's counters, zero-valued if never called.
func (b *BoltDB) GetToolStats(toolID string) (*ToolStatRecord, error) {
	record := &ToolStatRecord{ToolID: toolID}
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ToolStatsBucket)).Get([]byte(toolID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read tool stat: %w", err)
	}
	return record, nil
}

// ListToolStats returns all counters sorted by count descending.
func (b *BoltDB) ListToolStats() ([]*ToolStatRecord, error) {
	var records []*ToolStatRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ToolStatsBucket)).ForEach(func(_, v []byte) error {
			var record ToolStatRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil // skip corrupt entries
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tool stats: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].ToolID < records[j].ToolID
	})
	return records, nil
}
