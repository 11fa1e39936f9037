// Package records decodes the newline-delimited JSON stream a completed
// bulk export materializes. Each line is modelled as a tagged variant with
// only the fields the sync core reads; everything else passes through as
// raw JSON.
package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Line buffer sizing for the JSONL scanner. Product records with large
// media arrays routinely exceed bufio's default line limit.
const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 10 * 1024 * 1024
)

// Kind tags which entity variant a line represents
type Kind string

const (
	// KindProduct is a product record
	KindProduct Kind = "Product"

	// KindVariant is a product variant record, child of a product
	KindVariant Kind = "ProductVariant"

	// KindCollection is a collection/product-group record
	KindCollection Kind = "Collection"

	// KindInventoryLevel is a stock level record
	KindInventoryLevel Kind = "InventoryLevel"

	// KindUnknown covers record types the core does not read
	KindUnknown Kind = ""
)

// Line is one decoded export record
type Line struct {
	// ID is the record's global id on the source platform
	ID string

	// ParentID links child records (variants, images) to their parent
	ParentID string

	// Published carries the optional removal signal: records not published
	// on the current publication are deletion candidates
	Published *bool

	// Kind is the entity variant, derived from the record's type tag or
	// its id shape
	Kind Kind

	// Raw is the full record, passed through untouched to the transformer
	Raw json.RawMessage
}

// envelope captures only the fields the core reads off every line
type envelope struct {
	ID        string `json:"id"`
	ParentID  string `json:"__parentId"`
	Typename  string `json:"__typename"`
	Published *bool  `json:"publishedOnCurrentPublication"`
}

// Decode parses one JSONL line
func Decode(data []byte) (Line, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Line{}, fmt.Errorf("failed to decode record: %w", err)
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	return Line{
		ID:        env.ID,
		ParentID:  env.ParentID,
		Published: env.Published,
		Kind:      kindOf(env),
		Raw:       raw,
	}, nil
}

// kindOf derives the variant tag, preferring the explicit type tag and
// falling back to the id path
func kindOf(env envelope) Kind {
	switch env.Typename {
	case "Product":
		return KindProduct
	case "ProductVariant":
		return KindVariant
	case "Collection":
		return KindCollection
	case "InventoryLevel":
		return KindInventoryLevel
	}
	switch {
	case strings.Contains(env.ID, "/Product/"):
		return KindProduct
	case strings.Contains(env.ID, "/ProductVariant/"):
		return KindVariant
	case strings.Contains(env.ID, "/Collection/"):
		return KindCollection
	case strings.Contains(env.ID, "/InventoryLevel/"):
		return KindInventoryLevel
	}
	return KindUnknown
}

// Scan streams records out of r, invoking fn per line. Blank lines are
// skipped. Scanning stops on the first error from fn.
func Scan(r io.Reader, fn func(Line) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		line, err := Decode(data)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan export data: %w", err)
	}
	return nil
}
