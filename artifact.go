// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"
)

// Artifact is a chunkable piece of task output. Index groups chunks that
// belong to the same logical output; Append means the chunk concatenates onto
// the prior chunk at that index instead of replacing it; LastChunk marks that
// no further chunks will arrive at that index.
type Artifact struct {
	Name        string         `json:"name,omitzero"`
	Description string         `json:"description,omitzero"`
	Parts       PartList       `json:"parts"`
	Index       int            `json:"index"`
	Append      bool           `json:"append,omitzero"`
	LastChunk   bool           `json:"lastChunk,omitzero"`
	Metadata    map[string]any `json:"metadata,omitzero"`
}

// NewTextArtifact creates an artifact at index 0 containing a single TextPart.
func NewTextArtifact(text string) *Artifact {
	return &Artifact{Parts: PartList{NewTextPart(text)}}
}

// Validate ensures the artifact is well formed.
func (a *Artifact) Validate() error {
	if a.Index < 0 {
		return fmt.Errorf("artifact index cannot be negative, got %d", a.Index)
	}
	if len(a.Parts) == 0 {
		return fmt.Errorf("artifact must contain at least one part")
	}
	return a.Parts.Validate()
}

// MergeArtifact folds an incoming artifact chunk into the slice, honoring the
// chunk's index and append flag: append concatenates parts onto the existing
// artifact at that index, otherwise the chunk replaces it (or is added when
// the index is new).
func MergeArtifact(artifacts []*Artifact, incoming *Artifact) []*Artifact {
	for i, existing := range artifacts {
		if existing.Index != incoming.Index {
			continue
		}
		if incoming.Append {
			existing.Parts = append(existing.Parts, incoming.Parts...)
			existing.LastChunk = existing.LastChunk || incoming.LastChunk
			return artifacts
		}
		artifacts[i] = incoming
		return artifacts
	}
	return append(artifacts, incoming)
}
