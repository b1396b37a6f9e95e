package handler

import (
	"signet/internal/document/service"
	envelopemodels "signet/internal/envelope/models"
)

// UploadResponse confirms the reference a source upload landed under.
type UploadResponse struct {
	EnvelopeID string `json:"envelope_id"`
	SourceKey  string `json:"source_key"`
	SourceHash string `json:"source_hash"`
	SizeBytes  int    `json:"size_bytes"`
}

// RenditionResponse confirms the reference a stored rendition landed under.
type RenditionResponse struct {
	EnvelopeID string `json:"envelope_id"`
	Variant    string `json:"variant"`
	Key        string `json:"key"`
	Hash       string `json:"hash,omitempty"`
}

// VariantResponse describes one document variant of an envelope.
type VariantResponse struct {
	Variant string `json:"variant"`
	Key     string `json:"key"`
	Hash    string `json:"hash,omitempty"`
	Stored  bool   `json:"stored"`
}

// DocumentResponse is the HTTP representation of an envelope's document
// material.
type DocumentResponse struct {
	EnvelopeID string            `json:"envelope_id"`
	Status     string            `json:"status"`
	Variants   []VariantResponse `json:"variants"`
}

// FromRendition builds the response for a freshly stored rendition.
func FromRendition(e *envelopemodels.Envelope, variant service.Variant) RenditionResponse {
	resp := RenditionResponse{
		EnvelopeID: e.ID.String(),
		Variant:    string(variant),
	}
	switch variant {
	case service.VariantFlattened:
		resp.Key = e.FlattenedKey
	case service.VariantSigned:
		resp.Key = e.SignedKey
		resp.Hash = e.SignedHash
	}
	return resp
}

// FromInfo converts the document metadata view to an HTTP response.
func FromInfo(info *service.Info) DocumentResponse {
	resp := DocumentResponse{
		EnvelopeID: info.EnvelopeID.String(),
		Status:     string(info.Status),
		Variants:   make([]VariantResponse, 0, len(info.Variants)),
	}
	for _, v := range info.Variants {
		resp.Variants = append(resp.Variants, VariantResponse{
			Variant: string(v.Variant),
			Key:     v.Key,
			Hash:    v.Hash,
			Stored:  v.Stored,
		})
	}
	return resp
}
