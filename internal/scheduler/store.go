package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/storage"
	"github.com/toolgate/toolgate/internal/toolerr"
)

// Store persists jobs and execution records. Execution keys are
// "<jobID>/<execID>"; execution ids are ULIDs so a prefix scan yields them
// in firing order.
type Store struct {
	db     *storage.BoltDB
	logger *zap.Logger
}

// NewStore creates a job store over the shared state database.
func NewStore(db *storage.BoltDB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// SaveJob writes a job atomically.
func (s *Store) SaveJob(job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.db.DB().Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.JobsBucket)).Put([]byte(job.ID), data)
	})
}

// GetJob loads one job.
func (s *Store) GetJob(id string) (*Job, error) {
	var job *Job
	err := s.db.DB().View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(storage.JobsBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		job = &Job{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	if job == nil {
		return nil, toolerr.NotFound("job %q not found", id)
	}
	return job, nil
}

// ListJobs returns all jobs sorted by creation time.
func (s *Store) ListJobs() ([]*Job, error) {
	var jobs []*Job
	err := s.db.DB().View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.JobsBucket)).ForEach(func(_, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				s.logger.Warn("Skipping corrupt job record", zap.Error(err))
				return nil
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// DeleteJob removes a job and its execution history.
func (s *Store) DeleteJob(id string) error {
	return s.db.DB().Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(storage.JobsBucket))
		if jobs.Get([]byte(id)) == nil {
			return toolerr.NotFound("job %q not found", id)
		}
		if err := jobs.Delete([]byte(id)); err != nil {
			return err
		}
		return deleteExecutionsOf(tx, id, nil)
	})
}

// SaveExecution writes an execution record.
func (s *Store) SaveExecution(exec *Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	key := execKey(exec.JobID, exec.ID)
	return s.db.DB().Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.ExecutionsBucket)).Put(key, data)
	})
}

// ListExecutions returns a job's executions, most recent first.
func (s *Store) ListExecutions(jobID string, limit int) ([]*Execution, error) {
	var execs []*Execution
	prefix := []byte(jobID + "/")
	err := s.db.DB().View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(storage.ExecutionsBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				continue
			}
			execs = append(execs, &exec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	// ULID keys scan oldest first; reverse for most recent first.
	for i, j := 0, len(execs)-1; i < j; i, j = i+1, j-1 {
		execs[i], execs[j] = execs[j], execs[i]
	}
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// Compact deletes execution records older than maxAge and caps the number
// retained per job, keeping the most recent.
func (s *Store) Compact(maxAge time.Duration, perJob int) (removed int, err error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	err = s.db.DB().Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.ExecutionsBucket))

		perJobKeys := make(map[string][][]byte)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			jobID, _, ok := strings.Cut(string(k), "/")
			if !ok {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if exec.StartedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			perJobKeys[jobID] = append(perJobKeys[jobID], append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, keys := range perJobKeys {
			if len(keys) <= perJob {
				continue
			}
			// Keys are ULID-ordered oldest first; drop the excess head.
			stale = append(stale, keys[:len(keys)-perJob]...)
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compaction failed: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Execution history compacted", zap.Int("removed", removed))
	}
	return removed, nil
}

func execKey(jobID, execID string) []byte {
	return []byte(jobID + "/" + execID)
}

func deleteExecutionsOf(tx *bbolt.Tx, jobID string, _ *zap.Logger) error {
	bucket := tx.Bucket([]byte(storage.ExecutionsBucket))
	prefix := jobID + "/"
	c := bucket.Cursor()
	var keys [][]byte
	for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
