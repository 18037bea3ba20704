package scanning

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an expert at reading invoices and extracting bank payment details. You must carefully read all text in images and extract accurate information."

// invoiceScanPrompt is the shared prompt used by all LLM providers for scanning invoices
const invoiceScanPrompt = `You are analyzing a vendor invoice. Extract the IBAN and the bank account name/identifier the vendor wants to be paid to, and describe where on the page you found them.

Return ONLY valid JSON in this exact format:
{
  "iban": "the full IBAN",
  "account_name": "the bank account name or identifier",
  "confidence": 0.0,
  "notes": "any extraction notes or uncertainties",
  "layout": {
    "layout_type": "standard|complex|custom",
    "iban_section": {
      "location": "header|footer|middle|sidebar",
      "label": "the label or heading text near the IBAN",
      "context": "short description of surrounding elements"
    },
    "account_section": {
      "location": "header|footer|middle|sidebar",
      "label": "the label or heading text near the account name",
      "context": "short description of surrounding elements"
    }
  }
}

Rules:
- Extract the complete IBAN including country code and check digits
- Remove any spaces or formatting from the IBAN
- Extract the account name exactly as shown
- confidence is a number between 0.0 and 1.0
- Set confidence to 1.0 only if you are absolutely certain
- Use confidence 0.7-0.9 if there is any uncertainty
- Include notes if the data is unclear or ambiguous
- The layout describes structure only, never the actual values
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt appends what is known about the vendor's layout to the base prompt
func buildPrompt(hint *Hint) string {
	if hint == nil || (hint.IBANLocation == "" && hint.AccountNameLocation == "") {
		return invoiceScanPrompt
	}

	var b strings.Builder
	b.WriteString(invoiceScanPrompt)
	b.WriteString("\n\nContext: previous invoices from this vendor")
	if hint.IBANLocation != "" {
		fmt.Fprintf(&b, " had the IBAN in the %s section", hint.IBANLocation)
	}
	if hint.AccountNameLocation != "" {
		if hint.IBANLocation != "" {
			b.WriteString(" and")
		}
		fmt.Fprintf(&b, " had the account name in the %s section", hint.AccountNameLocation)
	}
	b.WriteString(".")
	return b.String()
}
