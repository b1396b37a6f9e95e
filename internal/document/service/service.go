// Package service orchestrates document content. Uploads bind
// content-addressed blobs to their envelope, and downloads re-verify the
// recorded digest before handing bytes out, so tampered or lost storage
// surfaces as an integrity failure rather than silent corruption.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	auditmodels "signet/internal/audit/models"
	"signet/internal/document/metrics"
	envelopemodels "signet/internal/envelope/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/canonical"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

// defaultMaxUploadBytes bounds a single document upload.
const defaultMaxUploadBytes = 25 << 20

// Blobs is the service's view of the content-addressed blob store.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Envelopes binds document content to the owning envelope.
type Envelopes interface {
	Get(ctx context.Context, envelopeID id.EnvelopeID) (*envelopemodels.Envelope, error)
	AttachDocument(ctx context.Context, envelopeID id.EnvelopeID, key, hash string) (*envelopemodels.Envelope, error)
	AttachRendition(ctx context.Context, envelopeID id.EnvelopeID, kind envelopemodels.RenditionKind, key, hash string) (*envelopemodels.Envelope, error)
}

// Auditor appends document access events to the tamper-evident ledger.
type Auditor interface {
	Record(ctx context.Context, c auditmodels.Candidate) (*auditmodels.Event, error)
}

// Variant names one downloadable rendition of an envelope's document.
type Variant string

const (
	// VariantSource is the document as uploaded.
	VariantSource Variant = "source"
	// VariantFlattened is the render with signature fields burned in.
	VariantFlattened Variant = "flattened"
	// VariantSigned is the sealed output produced at completion.
	VariantSigned Variant = "signed"
)

func (v Variant) Valid() bool {
	return v == VariantSource || v == VariantFlattened || v == VariantSigned
}

// ParseVariant constructs a Variant from external input.
func ParseVariant(raw string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(raw)))
	if !v.Valid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown document variant %q", raw)
	}
	return v, nil
}

// Content is one downloadable rendition with its verified digest.
type Content struct {
	Variant Variant
	Key     string
	Hash    string
	Data    []byte
}

// VariantInfo describes one rendition reference and whether its blob is
// actually present in the store.
type VariantInfo struct {
	Variant Variant
	Key     string
	Hash    string
	Stored  bool
}

// Info is the document metadata view of an envelope.
type Info struct {
	EnvelopeID id.EnvelopeID
	Status     envelopemodels.Status
	Variants   []VariantInfo
}

// Service mediates between the blob store and the envelope lifecycle.
type Service struct {
	blobs     Blobs
	envelopes Envelopes
	auditor   Auditor
	maxBytes  int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for document events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxUploadBytes overrides the upload size ceiling.
func WithMaxUploadBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// New creates a document service.
func New(blobs Blobs, envelopes Envelopes, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		blobs:     blobs,
		envelopes: envelopes,
		auditor:   auditor,
		maxBytes:  defaultMaxUploadBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores the source document and binds it to the envelope. The
// blob lands before the reference: an unreferenced content-addressed
// blob is harmless, an envelope pointing at absent bytes is not.
func (s *Service) Upload(ctx context.Context, envelopeID id.EnvelopeID, data []byte) (*envelopemodels.Envelope, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	if err := s.checkSize(data); err != nil {
		return nil, err
	}

	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertUploadAllowed("upload_document"); err != nil {
		return nil, err
	}

	hash := canonical.HashBytes(data)
	key := blobKey(tenantID, hash)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store document blob")
	}

	envelope, err = s.envelopes.AttachDocument(ctx, envelopeID, key, hash)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementUpload(len(data))
	s.logger.InfoContext(ctx, "document uploaded",
		"envelope_id", envelope.ID,
		"size_bytes", len(data),
		"source_key", key,
	)
	return envelope, nil
}

// StoreRendition persists a worker-produced rendition and binds it to
// the envelope. Source content goes through Upload.
func (s *Service) StoreRendition(ctx context.Context, envelopeID id.EnvelopeID, variant Variant, data []byte) (*envelopemodels.Envelope, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required")
	}
	kind, err := renditionKind(variant)
	if err != nil {
		return nil, err
	}
	if err := s.checkSize(data); err != nil {
		return nil, err
	}

	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertRenditionAllowed(kind); err != nil {
		return nil, err
	}

	hash := canonical.HashBytes(data)
	key := blobKey(tenantID, hash)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store rendition blob")
	}

	envelope, err = s.envelopes.AttachRendition(ctx, envelopeID, kind, key, hash)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementRendition(string(kind))
	s.logger.InfoContext(ctx, "rendition stored",
		"envelope_id", envelope.ID,
		"rendition", kind,
		"size_bytes", len(data),
	)
	return envelope, nil
}

// Download returns the requested rendition after re-verifying its
// recorded digest. Nothing is served before the first signer has acted.
func (s *Service) Download(ctx context.Context, envelopeID id.EnvelopeID, variant Variant) (*Content, error) {
	if !variant.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown document variant %q", string(variant))
	}
	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if err := envelope.AssertDownloadAllowed("download_document"); err != nil {
		return nil, err
	}

	key, recordedHash := variantRef(envelope, variant)
	if key == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "document variant is not available").
			WithMeta("variant", string(variant))
	}

	data, err := s.blobs.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementIntegrityFailure()
			return nil, dErrors.New(dErrors.CodeAuditIntegrity, "stored document blob is missing").
				WithMeta("variant", string(variant)).
				WithMeta("key", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "fetch document blob")
	}

	hash := canonical.HashBytes(data)
	if recordedHash != "" && hash != recordedHash {
		s.metrics.IncrementIntegrityFailure()
		return nil, dErrors.New(dErrors.CodeAuditIntegrity, "document content does not match its recorded digest").
			WithMeta("variant", string(variant)).
			WithMeta("key", key)
	}

	if err := s.record(ctx, envelope, auditmodels.EventDocumentDownloaded, map[string]any{
		"variant": string(variant),
		"key":     key,
	}); err != nil {
		return nil, err
	}

	s.metrics.IncrementDownload(string(variant))
	s.logger.InfoContext(ctx, "document downloaded",
		"envelope_id", envelope.ID,
		"variant", variant,
		"size_bytes", len(data),
	)
	return &Content{Variant: variant, Key: key, Hash: hash, Data: data}, nil
}

// Describe returns the envelope's document references and whether each
// blob is present in the store.
func (s *Service) Describe(ctx context.Context, envelopeID id.EnvelopeID) (*Info, error) {
	envelope, err := s.envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if !envelope.HasDocument() {
		return nil, dErrors.New(dErrors.CodeNotFound, "envelope has no document")
	}

	info := &Info{EnvelopeID: envelope.ID, Status: envelope.Status}
	for _, variant := range []Variant{VariantSource, VariantFlattened, VariantSigned} {
		key, hash := variantRef(envelope, variant)
		if key == "" {
			continue
		}
		stored, err := s.blobs.Exists(ctx, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "check document blob")
		}
		info.Variants = append(info.Variants, VariantInfo{Variant: variant, Key: key, Hash: hash, Stored: stored})
	}

	if err := s.record(ctx, envelope, auditmodels.EventDocumentAccessed, map[string]any{
		"source_key": envelope.SourceKey,
	}); err != nil {
		return nil, err
	}
	return info, nil
}

// record appends one access event to the audit ledger. Access events are
// part of the evidence, so a ledger failure fails the read.
func (s *Service) record(ctx context.Context, envelope *envelopemodels.Envelope, eventType auditmodels.EventType, metadata map[string]any) error {
	_, err := s.auditor.Record(ctx, auditmodels.Candidate{
		TenantID:   envelope.TenantID,
		EnvelopeID: envelope.ID,
		Type:       eventType,
		OccurredAt: requestcontext.Now(ctx),
		Actor:      actorFromContext(ctx),
		Metadata:   metadata,
	})
	return err
}

func (s *Service) checkSize(data []byte) error {
	if len(data) == 0 {
		return dErrors.New(dErrors.CodeValidation, "document content must not be empty")
	}
	if len(data) > s.maxBytes {
		return dErrors.New(dErrors.CodeValidation, "document exceeds the upload size limit").
			WithMeta("limit_bytes", s.maxBytes).
			WithMeta("size_bytes", len(data))
	}
	return nil
}

// blobKey derives the tenant-scoped, content-addressed object key.
func blobKey(tenantID id.TenantID, hash string) string {
	return "tenants/" + tenantID.String() + "/blobs/" + strings.TrimPrefix(hash, canonical.HashPrefix) + ".pdf"
}

// variantRef returns the stored reference for a variant. The flattened
// render carries no recorded digest.
func variantRef(e *envelopemodels.Envelope, v Variant) (key, hash string) {
	switch v {
	case VariantSource:
		return e.SourceKey, e.SourceHash
	case VariantFlattened:
		return e.FlattenedKey, ""
	case VariantSigned:
		return e.SignedKey, e.SignedHash
	}
	return "", ""
}

// renditionKind maps a download variant onto the envelope's rendition
// kinds. The source variant is not a rendition.
func renditionKind(variant Variant) (envelopemodels.RenditionKind, error) {
	switch variant {
	case VariantFlattened:
		return envelopemodels.RenditionFlattened, nil
	case VariantSigned:
		return envelopemodels.RenditionSigned, nil
	case VariantSource:
		return "", dErrors.New(dErrors.CodeValidation, "source content is uploaded, not rendered")
	default:
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown document variant %q", string(variant))
	}
}

// actorFromContext derives the audit actor from request identity. The
// ledger rejects actors carrying only client metadata, so without an
// identity the actor stays zero.
func actorFromContext(ctx context.Context) auditmodels.Actor {
	actor := auditmodels.Actor{Email: requestcontext.ActorEmail(ctx)}
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		actor.UserID = userID.String()
	}
	if partyID := requestcontext.PartyID(ctx); !partyID.IsNil() {
		actor.PartyID = partyID.String()
	}
	if actor.UserID == "" && actor.PartyID == "" && actor.Email == "" {
		return auditmodels.Actor{}
	}
	actor.IPAddress = requestcontext.ClientIP(ctx)
	actor.UserAgent = requestcontext.UserAgent(ctx)
	return actor
}
