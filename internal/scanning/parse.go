package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

type rawInvoiceData struct {
	IBAN        string   `json:"iban"`
	AccountName string   `json:"account_name"`
	Confidence  *float64 `json:"confidence"`
	Notes       string   `json:"notes"`
	Layout      *Layout  `json:"layout"`
}

// parseInvoiceJSON parses the JSON response from a model
func parseInvoiceJSON(text string) (*InvoiceData, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("%w: no JSON object found in response", ErrMalformedResponse)
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("%w: invalid JSON object in response", ErrMalformedResponse)
	}

	text = text[startIdx : endIdx+1]

	var raw rawInvoiceData
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrMalformedResponse, err)
	}

	if raw.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence", ErrMalformedResponse)
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, *raw.Confidence)
	}

	data := &InvoiceData{
		IBAN:        strings.TrimSpace(raw.IBAN),
		AccountName: strings.TrimSpace(raw.AccountName),
		Confidence:  *raw.Confidence,
		Notes:       strings.TrimSpace(raw.Notes),
		Layout:      raw.Layout,
	}

	if data.Layout != nil {
		data.Layout.LayoutType = strings.ToLower(strings.TrimSpace(data.Layout.LayoutType))
		data.Layout.IBANSection.Location = strings.ToLower(strings.TrimSpace(data.Layout.IBANSection.Location))
		data.Layout.AccountSection.Location = strings.ToLower(strings.TrimSpace(data.Layout.AccountSection.Location))
	}

	return data, nil
}
