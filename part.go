// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Part kind discriminator values carried in the "type" field on the wire.
const (
	PartTypeText = "text"
	PartTypeFile = "file"
	PartTypeData = "data"
)

// Part is one segment of a message or artifact payload. It is a
// discriminated union: TextPart, FilePart, or DataPart.
type Part interface {
	// PartType returns the wire discriminator for the part.
	PartType() string

	// Validate ensures the part is well formed.
	Validate() error
}

// TextPart carries plain text.
type TextPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewTextPart creates a TextPart with the discriminator set.
func NewTextPart(text string) *TextPart {
	return &TextPart{Type: PartTypeText, Text: text}
}

// PartType implements [Part].
func (p *TextPart) PartType() string { return PartTypeText }

// Validate implements [Part].
func (p *TextPart) Validate() error {
	if p.Type != PartTypeText {
		return fmt.Errorf("text part type must be %q, got %q", PartTypeText, p.Type)
	}
	return nil
}

// FileContent is the body of a FilePart. Exactly one of Bytes (base64 inline
// content) or URI must be set.
type FileContent struct {
	Name     string `json:"name,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	Bytes    string `json:"bytes,omitzero"`
	URI      string `json:"uri,omitzero"`
}

// Validate ensures exactly one of Bytes or URI is present.
func (f *FileContent) Validate() error {
	if f.Bytes != "" && f.URI != "" {
		return fmt.Errorf("file content cannot carry both bytes and uri")
	}
	if f.Bytes == "" && f.URI == "" {
		return fmt.Errorf("file content must carry either bytes or uri")
	}
	return nil
}

// FilePart carries a file, either inline or by reference.
type FilePart struct {
	Type     string         `json:"type"`
	File     FileContent    `json:"file"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewFilePart creates a FilePart with the discriminator set.
func NewFilePart(file FileContent) *FilePart {
	return &FilePart{Type: PartTypeFile, File: file}
}

// PartType implements [Part].
func (p *FilePart) PartType() string { return PartTypeFile }

// Validate implements [Part].
func (p *FilePart) Validate() error {
	if p.Type != PartTypeFile {
		return fmt.Errorf("file part type must be %q, got %q", PartTypeFile, p.Type)
	}
	return p.File.Validate()
}

// DataPart carries structured data.
type DataPart struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewDataPart creates a DataPart with the discriminator set.
func NewDataPart(data map[string]any) *DataPart {
	return &DataPart{Type: PartTypeData, Data: data}
}

// PartType implements [Part].
func (p *DataPart) PartType() string { return PartTypeData }

// Validate implements [Part].
func (p *DataPart) Validate() error {
	if p.Type != PartTypeData {
		return fmt.Errorf("data part type must be %q, got %q", PartTypeData, p.Type)
	}
	if p.Data == nil {
		return fmt.Errorf("data part data cannot be nil")
	}
	return nil
}

// PartList is a slice of parts that knows how to decode the "type"
// discriminator into the matching concrete part.
type PartList []Part

// UnmarshalJSON implements json unmarshaling for the discriminated union.
func (pl *PartList) UnmarshalJSON(data []byte) error {
	var raws []jsontext.Value
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("failed to unmarshal part list: %w", err)
	}

	parts := make([]Part, 0, len(raws))
	for i, raw := range raws {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("part at index %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	*pl = parts
	return nil
}

// UnmarshalPart decodes a single part from its JSON encoding, dispatching on
// the "type" discriminator.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to probe part type: %w", err)
	}

	switch probe.Type {
	case PartTypeText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal text part: %w", err)
		}
		return &p, nil
	case PartTypeFile:
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file part: %w", err)
		}
		return &p, nil
	case PartTypeData:
		var p DataPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data part: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown part type: %q", probe.Type)
	}
}

// Validate validates every part in the list.
func (pl PartList) Validate() error {
	for i, part := range pl {
		if part == nil {
			return fmt.Errorf("part at index %d cannot be nil", i)
		}
		if err := part.Validate(); err != nil {
			return fmt.Errorf("part at index %d is invalid: %w", i, err)
		}
	}
	return nil
}

// Text joins the text content of all TextParts in the list with newlines.
func (pl PartList) Text() string {
	var out string
	for _, part := range pl {
		if tp, ok := part.(*TextPart); ok {
			if out != "" {
				out += "\n"
			}
			out += tp.Text
		}
	}
	return out
}
