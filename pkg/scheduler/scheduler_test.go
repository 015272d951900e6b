package scheduler

import (
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

func newTestScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	s, err := New(db, audit.NewRecorder(db, logger), nil, logger)
	require.NoError(t, err)
	return s, mock
}

func TestCleanupOrphanedSnapshots(t *testing.T) {
	s, mock := newTestScheduler(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM detail_snapshots ds")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	s.cleanupOrphanedSnapshots()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupAuditLog(t *testing.T) {
	s, mock := newTestScheduler(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log")).
		WillReturnResult(sqlmock.NewResult(0, 12))

	s.cleanupAuditLog()
	assert.NoError(t, mock.ExpectationsWereMet())
}
