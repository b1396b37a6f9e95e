package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

func reservation() *Record {
	now := time.Now()
	return &Record{
		Key:       "sha256:abc",
		TenantID:  id.TenantID(uuid.New()),
		Status:    StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, reservation().Validate())

	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing key", func(r *Record) { r.Key = "" }},
		{"missing tenant", func(r *Record) { r.TenantID = id.TenantID{} }},
		{"unknown status", func(r *Record) { r.Status = "stuck" }},
		{"expiry before creation", func(r *Record) { r.ExpiresAt = r.CreatedAt.Add(-time.Second) }},
		{"expiry equals creation", func(r *Record) { r.ExpiresAt = r.CreatedAt }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := reservation()
			tc.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestExpired(t *testing.T) {
	r := reservation()
	assert.False(t, r.Expired(r.ExpiresAt.Add(-time.Second)))
	assert.True(t, r.Expired(r.ExpiresAt))
	assert.True(t, r.Expired(r.ExpiresAt.Add(time.Second)))
}
