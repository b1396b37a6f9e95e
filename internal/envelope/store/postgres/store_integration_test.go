//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"signet/internal/envelope/models"
	"signet/internal/envelope/store/postgres"
	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
	txcontext "signet/pkg/platform/tx"
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
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "parties", "envelopes", "tenants"))

	s.tenantID = id.TenantID(uuid.New())
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, 'active', NOW(), NOW())
	`, uuid.UUID(s.tenantID), "tenant-"+uuid.NewString())
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newEnvelope() *models.Envelope {
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := id.UserID(uuid.New())
	return &models.Envelope{
		ID:           id.EnvelopeID(uuid.New()),
		TenantID:     s.tenantID,
		Title:        "Integration Agreement",
		Description:  "round trip",
		Status:       models.StatusDraft,
		SigningOrder: models.SigningOrderSequential,
		Origin:       models.OriginUpload,
		SourceKey:    "tenants/acme/source.pdf",
		SourceHash:   "sha256:cafe",
		Version:      1,
		CreatedBy:    &userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	expires := envelope.CreatedAt.Add(72 * time.Hour)
	envelope.ExpiresAt = &expires

	s.Require().NoError(s.store.Create(ctx, envelope))

	got, err := s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().NoError(err)
	s.Equal(envelope.Title, got.Title)
	s.Equal(envelope.Description, got.Description)
	s.Equal(models.StatusDraft, got.Status)
	s.Equal(models.SigningOrderSequential, got.SigningOrder)
	s.Equal(models.OriginUpload, got.Origin)
	s.Equal(envelope.SourceKey, got.SourceKey)
	s.Equal(envelope.SourceHash, got.SourceHash)
	s.Equal(int64(1), got.Version)
	s.Require().NotNil(got.CreatedBy)
	s.Equal(*envelope.CreatedBy, *got.CreatedBy)
	s.Nil(got.DeclinedByParty)
	s.Nil(got.SentAt)
	s.Require().NotNil(got.ExpiresAt)
	s.WithinDuration(expires, *got.ExpiresAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestGetUnknownEnvelopeIsNotFound() {
	_, err := s.store.Get(context.Background(), s.tenantID, id.EnvelopeID(uuid.New()))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateBumpsVersion() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(ctx, envelope))

	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(envelope.ApplySent(now))
	s.Require().NoError(s.store.Update(ctx, envelope))
	s.Equal(int64(2), envelope.Version)

	got, err := s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, got.Status)
	s.Equal(int64(2), got.Version)
	s.Require().NotNil(got.SentAt)
	s.WithinDuration(now, *got.SentAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestStaleVersionLosesTheRace() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(ctx, envelope))

	// Two readers pick up version 1; the second write must lose.
	stale, err := s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().NoError(err)

	now := time.Now().UTC()
	s.Require().NoError(envelope.ApplySent(now))
	s.Require().NoError(s.store.Update(ctx, envelope))

	s.Require().NoError(stale.ApplyCancelled(now))
	err = s.store.Update(ctx, stale)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	got, err := s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, got.Status)
}

func (s *PostgresStoreSuite) TestUpdateMissingEnvelopeIsNotFound() {
	envelope := s.newEnvelope()
	err := s.store.Update(context.Background(), envelope)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateInsideRolledBackTransaction() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(ctx, envelope))

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	txCtx := txcontext.WithTx(ctx, tx)

	s.Require().NoError(envelope.ApplySent(time.Now().UTC()))
	s.Require().NoError(s.store.Update(txCtx, envelope))
	s.Require().NoError(tx.Rollback())

	got, err := s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, got.Status)
	s.Equal(int64(1), got.Version)
}

func (s *PostgresStoreSuite) TestDeleteRemovesSignerRows() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(ctx, envelope))

	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO parties (id, tenant_id, envelope_id, email, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, 'signer@acme.test', 'Signer', NOW(), NOW())
	`, uuid.New(), uuid.UUID(s.tenantID), uuid.UUID(envelope.ID))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(ctx, s.tenantID, envelope.ID))

	_, err = s.store.Get(ctx, s.tenantID, envelope.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	var parties int
	err = s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parties WHERE envelope_id = $1`, uuid.UUID(envelope.ID)).Scan(&parties)
	s.Require().NoError(err)
	s.Zero(parties)

	s.Require().ErrorIs(s.store.Delete(ctx, s.tenantID, envelope.ID), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListFiltersAndOrders() {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	var newest id.EnvelopeID
	for i := range 3 {
		envelope := s.newEnvelope()
		envelope.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		envelope.UpdatedAt = envelope.CreatedAt
		if i == 1 {
			envelope.Status = models.StatusSent
		}
		if i == 2 {
			newest = envelope.ID
		}
		s.Require().NoError(s.store.Create(ctx, envelope))
	}

	all, err := s.store.List(ctx, s.tenantID, "", 10)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal(newest, all[0].ID, "newest first")

	sent, err := s.store.List(ctx, s.tenantID, models.StatusSent, 10)
	s.Require().NoError(err)
	s.Require().Len(sent, 1)
	s.Equal(models.StatusSent, sent[0].Status)

	capped, err := s.store.List(ctx, s.tenantID, "", 2)
	s.Require().NoError(err)
	s.Len(capped, 2)
}

func (s *PostgresStoreSuite) TestListExpiredUsesDeadlineAndStatus() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	overdue := s.newEnvelope()
	overdue.Status = models.StatusSent
	past := now.Add(-time.Hour)
	overdue.ExpiresAt = &past
	s.Require().NoError(s.store.Create(ctx, overdue))

	future := s.newEnvelope()
	future.Status = models.StatusSent
	ahead := now.Add(time.Hour)
	future.ExpiresAt = &ahead
	s.Require().NoError(s.store.Create(ctx, future))

	// Past deadline but already terminal: not the sweep's business.
	settled := s.newEnvelope()
	settled.Status = models.StatusCompleted
	settled.ExpiresAt = &past
	s.Require().NoError(s.store.Create(ctx, settled))

	noDeadline := s.newEnvelope()
	noDeadline.Status = models.StatusInProgress
	s.Require().NoError(s.store.Create(ctx, noDeadline))

	due, err := s.store.ListExpired(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(overdue.ID, due[0].ID)
}

func (s *PostgresStoreSuite) TestTenantIsolation() {
	ctx := context.Background()
	envelope := s.newEnvelope()
	s.Require().NoError(s.store.Create(ctx, envelope))

	otherTenant := id.TenantID(uuid.New())
	_, err := s.store.Get(ctx, otherTenant, envelope.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	foreign, err := s.store.List(ctx, otherTenant, "", 10)
	s.Require().NoError(err)
	s.Empty(foreign)
}
