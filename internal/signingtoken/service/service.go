// Package service implements signing token issuance and redemption.
//
// A signing token is the only credential an external signer ever
// holds: an HS256 JWT naming the tenant, envelope, party, and scope,
// delivered out of band when the envelope goes out. Action tokens are
// single use. Redemption consumes the token ID in a shared store, so
// a leaked or replayed link cannot act twice even across instances.
// The tokens themselves are never persisted.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	envelopemodels "signet/internal/envelope/models"
	partymodels "signet/internal/party/models"
	"signet/internal/signingtoken/metrics"
	"signet/internal/signingtoken/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

const (
	defaultIssuer = "signet"

	// defaultTTL caps token life when the envelope has no expiry of
	// its own. Signing links travel by email and sit in inboxes.
	defaultTTL = 7 * 24 * time.Hour

	minSecretBytes = 32
)

// tokenClaims is the wire form of a signing token.
type tokenClaims struct {
	TenantID   string `json:"tenant_id"`
	EnvelopeID string `json:"envelope_id"`
	PartyID    string `json:"party_id"`
	Scope      string `json:"scope"`
	jwt.RegisteredClaims
}

// Envelopes loads envelope state for mint guards. The envelope
// service satisfies this.
type Envelopes interface {
	Get(ctx context.Context, envelopeID id.EnvelopeID) (*envelopemodels.Envelope, error)
}

// Parties looks up signer records for minting and access code checks.
// The party service satisfies this.
type Parties interface {
	Get(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID) (*partymodels.Party, error)
	List(ctx context.Context, envelopeID id.EnvelopeID) ([]partymodels.Party, error)
}

// RedemptionStore marks token IDs as used. Implementations return
// sentinel.ErrAlreadyUsed when the ID was consumed before.
type RedemptionStore interface {
	Redeem(ctx context.Context, tokenID string, ttl time.Duration) error
}

// Service mints, verifies, and redeems signing tokens.
type Service struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	store     RedemptionStore
	envelopes Envelopes
	parties   Parties
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for token events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIssuer overrides the issuer claim, for deployments that run
// several environments against one signer base.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTTL overrides the default token lifetime. The envelope's own
// expiry still wins when it comes first.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// New creates a signing token service. The secret is the HMAC key for
// every token this instance mints or accepts; a short secret is a
// configuration error, not something to limp along with.
func New(secret []byte, store RedemptionStore, envelopes Envelopes, parties Parties, opts ...Option) (*Service, error) {
	if len(secret) < minSecretBytes {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "signing secret must be at least %d bytes", minSecretBytes)
	}
	s := &Service{
		secret:    append([]byte(nil), secret...),
		issuer:    defaultIssuer,
		ttl:       defaultTTL,
		store:     store,
		envelopes: envelopes,
		parties:   parties,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint issues one token for one signer. Action scopes require an open
// signing window and a signer who has not acted; view tokens stay
// mintable through completion.
func (s *Service) Mint(ctx context.Context, envelopeID id.EnvelopeID, partyID id.PartyID, scope id.SigningScope) (*models.Grant, error) {
	if !scope.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid scope")
	}
	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	party, err := s.parties.Get(ctx, envelopeID, partyID)
	if err != nil {
		return nil, err
	}

	grant, err := s.mint(ctx, envelope, party, scope)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "signing token minted",
		"envelope_id", envelopeID,
		"party_id", partyID,
		"scope", scope.String(),
		"expires_at", grant.ExpiresAt)
	return grant, nil
}

// MintForEnvelope issues a sign-scope token for every signer still
// able to act. This is the send relay: a notifier picks the grants up
// and turns them into signing links. Sequential order is not enforced
// here; holding a token only authenticates, the turn gate still runs
// at signing time.
func (s *Service) MintForEnvelope(ctx context.Context, envelopeID id.EnvelopeID) ([]models.Grant, error) {
	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertSigningOpen("mint_tokens"); err != nil {
		return nil, err
	}
	parties, err := s.parties.List(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	grants := make([]models.Grant, 0, len(parties))
	for i := range parties {
		if parties[i].Status.Terminal() {
			continue
		}
		grant, err := s.mint(ctx, envelope, &parties[i], id.ScopeSign)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	s.logger.InfoContext(ctx, "signing tokens minted",
		"envelope_id", envelopeID,
		"count", len(grants))
	return grants, nil
}

func (s *Service) mint(ctx context.Context, envelope *envelopemodels.Envelope, party *partymodels.Party, scope id.SigningScope) (*models.Grant, error) {
	if scope == id.ScopeView {
		if err := envelope.AssertViewable("mint_token"); err != nil {
			return nil, err
		}
	} else {
		if err := envelope.AssertSigningOpen("mint_token"); err != nil {
			return nil, err
		}
		if party.Status.Terminal() {
			return nil, dErrors.Newf(dErrors.CodeConflict, "signer already %s", party.Status)
		}
	}

	now := requestcontext.Now(ctx)
	expiresAt := now.Add(s.ttl)
	if envelope.ExpiresAt != nil && envelope.ExpiresAt.Before(expiresAt) {
		expiresAt = *envelope.ExpiresAt
	}
	if !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "envelope expiry has already passed")
	}

	claims := tokenClaims{
		TenantID:   envelope.TenantID.String(),
		EnvelopeID: envelope.ID.String(),
		PartyID:    party.ID.String(),
		Scope:      scope.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   party.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign token")
	}

	s.metrics.IncrementMinted(scope.String())
	return &models.Grant{
		Token:      signed,
		PartyID:    party.ID,
		Email:      party.Email,
		Scope:      scope,
		ExpiresAt:  expiresAt,
		EnvelopeID: envelope.ID,
	}, nil
}

// Verify checks the token signature and expiry and returns the typed
// claims. It does not consume the token.
func (s *Service) Verify(ctx context.Context, raw string) (*models.Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return typedClaims(claims)
}

// Resolve authenticates a token without consuming it: verify, then
// load the signer it names. View surfaces and consent capture use
// this so the action token survives until the signature itself.
func (s *Service) Resolve(ctx context.Context, raw string) (*models.Session, error) {
	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	party, err := s.lookupParty(ctx, claims)
	if err != nil {
		return nil, err
	}
	return &models.Session{Claims: claims, Party: party}, nil
}

// Redeem authenticates a token for an action and consumes it. The
// scope must permit the action, the signer must currently be able to
// take it, the access code must match when one is configured, and the
// token ID must never have been redeemed before. Refused attempts do
// not consume the token; exactly one redemption wins.
func (s *Service) Redeem(ctx context.Context, raw string, action id.SigningScope, accessCode string) (*models.Session, error) {
	start := time.Now()
	defer s.metrics.ObserveRedeem(start)

	claims, err := s.Verify(ctx, raw)
	if err != nil {
		s.metrics.IncrementRedemption(metrics.OutcomeRejected)
		return nil, err
	}
	if !claims.Scope.Permits(action) {
		s.metrics.IncrementRedemption(metrics.OutcomeRejected)
		return nil, dErrors.Newf(dErrors.CodeForbidden, "token does not permit %s", action).
			WithMeta("scope", claims.Scope.String())
	}

	party, err := s.lookupParty(ctx, claims)
	if err != nil {
		s.metrics.IncrementRedemption(metrics.OutcomeRejected)
		return nil, err
	}
	if err := assertPartyReady(party, action); err != nil {
		s.metrics.IncrementRedemption(metrics.OutcomeRejected)
		return nil, err
	}
	if err := party.CheckAccessCode(accessCode); err != nil {
		s.metrics.IncrementRedemption(metrics.OutcomeRejected)
		s.logger.WarnContext(ctx, "access code rejected",
			"envelope_id", claims.EnvelopeID,
			"party_id", claims.PartyID)
		return nil, err
	}

	ttl := claims.ExpiresAt.Sub(requestcontext.Now(ctx))
	if err := s.store.Redeem(ctx, claims.TokenID, ttl); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.metrics.IncrementRedemption(metrics.OutcomeReplayed)
			s.logger.WarnContext(ctx, "signing token replayed",
				"envelope_id", claims.EnvelopeID,
				"party_id", claims.PartyID,
				"token_id", claims.TokenID)
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has already been used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "redeem token")
	}

	s.metrics.IncrementRedemption(metrics.OutcomeAccepted)
	return &models.Session{Claims: claims, Party: party}, nil
}

// assertPartyReady refuses a redemption the signer could not follow
// through on, before the token is consumed. A signer who skipped
// consent or already acted keeps their token; the authoritative check
// still runs inside the signing transaction.
func assertPartyReady(party *partymodels.Party, action id.SigningScope) error {
	switch action {
	case id.ScopeSign:
		return party.CanSign()
	case id.ScopeDecline:
		return party.CanDecline()
	default:
		return nil
	}
}

// lookupParty loads the signer a verified token names. The token is
// the tenant assertion; signer requests carry no tenant of their own.
func (s *Service) lookupParty(ctx context.Context, claims *models.Claims) (*partymodels.Party, error) {
	ctx = requestcontext.WithTenantID(ctx, claims.TenantID)
	party, err := s.parties.Get(ctx, claims.EnvelopeID, claims.PartyID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// The signer may have been removed after minting. Do not
			// confirm to the holder what the token pointed at.
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token no longer matches a signer")
		}
		return nil, err
	}
	return party, nil
}

func typedClaims(claims *tokenClaims) (*models.Claims, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil, invalid
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return nil, invalid
	}
	envelopeID, err := id.ParseEnvelopeID(claims.EnvelopeID)
	if err != nil {
		return nil, invalid
	}
	partyID, err := id.ParsePartyID(claims.PartyID)
	if err != nil {
		return nil, invalid
	}
	scope, err := id.ParseSigningScope(claims.Scope)
	if err != nil {
		return nil, invalid
	}
	return &models.Claims{
		TokenID:    claims.ID,
		TenantID:   tenantID,
		EnvelopeID: envelopeID,
		PartyID:    partyID,
		Scope:      scope,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
