//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signet/internal/idempotency/models"
	"signet/internal/idempotency/store/postgres"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	"signet/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store

	tenantID id.TenantID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "idempotency_keys"))
	s.tenantID = id.TenantID(uuid.New())
}

func (s *PostgresStoreSuite) newRecord(key string) *models.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Record{
		Key:       key,
		TenantID:  s.tenantID,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func (s *PostgresStoreSuite) TestReservationSingleWinner() {
	ctx := context.Background()
	record := s.newRecord("sha256:one")

	s.Require().NoError(s.store.PutInProgress(ctx, record))
	s.Require().ErrorIs(s.store.PutInProgress(ctx, record), sentinel.ErrConflict)

	got, err := s.store.Get(ctx, s.tenantID, record.Key)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, got.Status)
	s.Equal(s.tenantID, got.TenantID)
	s.Nil(got.ResultBody)
	s.WithinDuration(record.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestCompleteRecordsSnapshot() {
	ctx := context.Background()
	record := s.newRecord("sha256:two")
	s.Require().NoError(s.store.PutInProgress(ctx, record))

	body := []byte(`{"id":"env-1"}`)
	s.Require().NoError(s.store.Complete(ctx, s.tenantID, record.Key, 201, body))

	got, err := s.store.Get(ctx, s.tenantID, record.Key)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.Equal(201, got.ResultCode)
	s.Equal(body, got.ResultBody)

	// Completed is terminal for the record.
	s.Require().ErrorIs(s.store.Complete(ctx, s.tenantID, record.Key, 500, nil), sentinel.ErrConflict)
	got, err = s.store.Get(ctx, s.tenantID, record.Key)
	s.Require().NoError(err)
	s.Equal(201, got.ResultCode)
}

func (s *PostgresStoreSuite) TestReleaseClearsReservation() {
	ctx := context.Background()
	record := s.newRecord("sha256:three")
	s.Require().NoError(s.store.PutInProgress(ctx, record))

	s.Require().NoError(s.store.Release(ctx, s.tenantID, record.Key))
	_, err := s.store.Get(ctx, s.tenantID, record.Key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// The key is free for the next attempt.
	s.Require().NoError(s.store.PutInProgress(ctx, record))
}

func (s *PostgresStoreSuite) TestReleaseLeavesCompletedRecords() {
	ctx := context.Background()
	record := s.newRecord("sha256:four")
	s.Require().NoError(s.store.PutInProgress(ctx, record))
	s.Require().NoError(s.store.Complete(ctx, s.tenantID, record.Key, 200, nil))

	s.Require().ErrorIs(s.store.Release(ctx, s.tenantID, record.Key), sentinel.ErrNotFound)

	got, err := s.store.Get(ctx, s.tenantID, record.Key)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *PostgresStoreSuite) TestTakeOverRequiresExpiry() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	live := s.newRecord("sha256:live")
	s.Require().NoError(s.store.PutInProgress(ctx, live))
	s.Require().ErrorIs(s.store.TakeOver(ctx, live.Key, now), sentinel.ErrConflict)

	expired := s.newRecord("sha256:expired")
	expired.CreatedAt = now.Add(-48 * time.Hour)
	expired.ExpiresAt = now.Add(-24 * time.Hour)
	s.Require().NoError(s.store.PutInProgress(ctx, expired))

	s.Require().NoError(s.store.TakeOver(ctx, expired.Key, now))
	_, err := s.store.Get(ctx, s.tenantID, expired.Key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// Already gone counts as lost.
	s.Require().ErrorIs(s.store.TakeOver(ctx, expired.Key, now), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestDeleteExpiredHonorsLimit() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, key := range []string{"sha256:a", "sha256:b", "sha256:c"} {
		record := s.newRecord(key)
		record.CreatedAt = now.Add(-time.Duration(i+2) * time.Hour)
		record.ExpiresAt = now.Add(-time.Duration(i+1) * time.Hour)
		s.Require().NoError(s.store.PutInProgress(ctx, record))
	}
	s.Require().NoError(s.store.PutInProgress(ctx, s.newRecord("sha256:fresh")))

	deleted, err := s.store.DeleteExpired(ctx, now, 2)
	s.Require().NoError(err)
	s.Equal(2, deleted)

	deleted, err = s.store.DeleteExpired(ctx, now, 10)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.Get(ctx, s.tenantID, "sha256:fresh")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestTenantIsolation() {
	ctx := context.Background()
	record := s.newRecord("sha256:five")
	s.Require().NoError(s.store.PutInProgress(ctx, record))

	_, err := s.store.Get(ctx, id.TenantID(uuid.New()), record.Key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().ErrorIs(s.store.Complete(ctx, id.TenantID(uuid.New()), record.Key, 200, nil), sentinel.ErrConflict)
}
