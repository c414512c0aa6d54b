package store

import (
	"github.com/jmoiron/sqlx"

	"github.com/semantica/task-engine/internal/apperr"
	"github.com/semantica/task-engine/pkg/domain"
)

// Tx is an explicit transaction handle exposing exactly the operations the
// Enqueue use case needs, all serializable with respect to concurrent
// transactions on the same subject under SQLite's single-writer model.
type Tx struct {
	tx *sqlx.Tx
}

// BeginTx starts a new transaction. The connection DSN carries
// _txlock=immediate, so mattn/go-sqlite3 issues BEGIN IMMEDIATE under the
// hood rather than a deferred BEGIN — the write lock is acquired up front,
// closing the read-then-upgrade race a deferred transaction would allow
// between concurrent enqueues on the same subject.
func (s *Store) BeginTx() (*Tx, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) GetLatestGeneration(subjectKey string) (int64, error) {
	return getLatestGeneration(t.tx, subjectKey)
}

func (t *Tx) Insert(job *domain.Job) error {
	return insertJob(t.tx, job)
}

func (t *Tx) MarkSuperseded(subjectKey string, belowGeneration int64, nowMs int64) (int64, error) {
	return markSuperseded(t.tx, subjectKey, belowGeneration, nowMs)
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Db, "commit transaction", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
