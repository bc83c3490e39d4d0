package purchasing

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// fieldAliases maps canonical JSON field names to the legacy names older clients still send
// and read. Storage only ever holds the canonical name.
var fieldAliases = map[string]string{
	"invoiceNo": "invoiceNumber",
	"item":      "product",
	"itemName":  "productName",
}

// canonicalizeJSON renames legacy fields to their canonical names at any depth. A payload
// carrying both names with different values is rejected.
func canonicalizeJSON(raw []byte) ([]byte, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, shared.Validation("purchasing: malformed json").Wrap(err)
	}
	if err := walkAliases(doc, canonicalizeObject); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// expandJSON marshals v and writes every canonical field under its legacy name as well.
func expandJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	_ = walkAliases(doc, expandObject)
	return json.Marshal(doc)
}

// decodeDocument keeps numbers as json.Number so ids and prices round-trip unchanged.
func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("purchasing: trailing data after json document")
	}
	return doc, nil
}

func walkAliases(node any, visit func(map[string]any) error) error {
	switch n := node.(type) {
	case map[string]any:
		if err := visit(n); err != nil {
			return err
		}
		for _, child := range n {
			if err := walkAliases(child, visit); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range n {
			if err := walkAliases(child, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func canonicalizeObject(obj map[string]any) error {
	for canonical, legacy := range fieldAliases {
		value, ok := obj[legacy]
		if !ok {
			continue
		}
		if current, exists := obj[canonical]; exists && fmt.Sprint(current) != fmt.Sprint(value) {
			return shared.Validation(fmt.Sprintf("purchasing: %s and %s disagree", canonical, legacy)).With("field", canonical)
		}
		obj[canonical] = value
		delete(obj, legacy)
	}
	return nil
}

func expandObject(obj map[string]any) error {
	for canonical, legacy := range fieldAliases {
		if value, ok := obj[canonical]; ok {
			obj[legacy] = value
		}
	}
	return nil
}
