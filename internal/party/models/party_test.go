package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "signet/pkg/domain-errors"
)

func TestStatusCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusInvited, true},
		{StatusPending, StatusSigned, false},
		{StatusPending, StatusDeclined, false},
		{StatusInvited, StatusSigned, true},
		{StatusInvited, StatusDeclined, true},
		{StatusInvited, StatusPending, false},
		{StatusSigned, StatusDeclined, false},
		{StatusSigned, StatusInvited, false},
		{StatusDeclined, StatusSigned, false},
		{StatusDeclined, StatusInvited, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestNormalize(t *testing.T) {
	t.Run("lowercases and trims the email", func(t *testing.T) {
		p := Party{Email: "  Ada.Lovelace@Example.COM ", FullName: "Ada Lovelace"}
		p.Normalize()
		assert.Equal(t, "ada.lovelace@example.com", p.Email)
		assert.Equal(t, "Ada Lovelace", p.FullName)
	})

	t.Run("derives a display name when none is given", func(t *testing.T) {
		p := Party{Email: "ada.lovelace@example.com"}
		p.Normalize()
		assert.Equal(t, "Ada Lovelace", p.FullName)
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts a normalized party", func(t *testing.T) {
		p := Party{Email: "ada@example.com", FullName: "Ada"}
		require.NoError(t, p.Validate())
	})

	t.Run("rejects a missing email", func(t *testing.T) {
		p := Party{FullName: "Ada"}
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects a non-address email", func(t *testing.T) {
		p := Party{Email: "not-an-address"}
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects a negative order index", func(t *testing.T) {
		p := Party{Email: "ada@example.com", OrderIndex: -1}
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestCanSign(t *testing.T) {
	t.Run("accepts an invited signer with consent", func(t *testing.T) {
		p := Party{Status: StatusInvited, ConsentGiven: true}
		require.NoError(t, p.CanSign())
	})

	t.Run("requires an invitation first", func(t *testing.T) {
		p := Party{Status: StatusPending, ConsentGiven: true}
		err := p.CanSign()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("requires consent before signing", func(t *testing.T) {
		p := Party{Status: StatusInvited}
		err := p.CanSign()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("conflicts on a signer who already acted", func(t *testing.T) {
		for _, status := range []Status{StatusSigned, StatusDeclined} {
			p := Party{Status: status, ConsentGiven: true}
			err := p.CanSign()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "from %s", status)
		}
	})
}

func TestCanDecline(t *testing.T) {
	t.Run("accepts an invited signer", func(t *testing.T) {
		p := Party{Status: StatusInvited}
		require.NoError(t, p.CanDecline())
	})

	t.Run("rejects a signer who was never invited", func(t *testing.T) {
		p := Party{Status: StatusPending}
		err := p.CanDecline()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("conflicts on a terminal signer", func(t *testing.T) {
		for _, status := range []Status{StatusSigned, StatusDeclined} {
			p := Party{Status: status}
			err := p.CanDecline()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "from %s", status)
		}
	})
}

func TestApplySigned(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := Party{Status: StatusInvited, ConsentGiven: true}
	p.ApplySigned(now, Signature{
		DocumentHash:  "sha256:doc",
		SignatureHash: "sha256:sig",
		KMSKeyID:      "alias/signet-signing",
		Algorithm:     "RSASSA_PSS_SHA_256",
	})

	assert.Equal(t, StatusSigned, p.Status)
	require.NotNil(t, p.SignedAt)
	assert.Equal(t, now, *p.SignedAt)
	assert.Equal(t, "sha256:doc", p.DocumentHash)
	assert.Equal(t, "alias/signet-signing", p.KMSKeyID)
}

func TestAccessCode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var p Party
		require.NoError(t, p.SetAccessCode("open-sesame"))
		require.NoError(t, p.CheckAccessCode("open-sesame"))
	})

	t.Run("wrong code is unauthorized", func(t *testing.T) {
		var p Party
		require.NoError(t, p.SetAccessCode("open-sesame"))
		err := p.CheckAccessCode("open-barley")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("no code configured accepts any caller", func(t *testing.T) {
		var p Party
		require.NoError(t, p.CheckAccessCode(""))
		require.NoError(t, p.CheckAccessCode("anything"))
	})

	t.Run("empty code cannot be set", func(t *testing.T) {
		var p Party
		err := p.SetAccessCode("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
