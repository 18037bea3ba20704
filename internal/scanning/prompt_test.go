package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buildPrompt", func() {
	It("returns the base prompt without a hint", func() {
		Expect(buildPrompt(nil)).To(Equal(invoiceScanPrompt))
		Expect(buildPrompt(&Hint{})).To(Equal(invoiceScanPrompt))
	})

	It("mentions the known IBAN location", func() {
		prompt := buildPrompt(&Hint{IBANLocation: "footer"})
		Expect(prompt).To(HavePrefix(invoiceScanPrompt))
		Expect(prompt).To(ContainSubstring("had the IBAN in the footer section."))
	})

	It("mentions both locations", func() {
		prompt := buildPrompt(&Hint{IBANLocation: "footer", AccountNameLocation: "sidebar"})
		Expect(prompt).To(ContainSubstring("IBAN in the footer section and had the account name in the sidebar section."))
	})
})

var _ = Describe("ContentTypeForExtension", func() {
	It("maps supported extensions", func() {
		Expect(ContentTypeForExtension(".pdf")).To(Equal("application/pdf"))
		Expect(ContentTypeForExtension("JPG")).To(Equal("image/jpeg"))
		Expect(ContentTypeForExtension(".tiff")).To(Equal("image/tiff"))
		Expect(ContentTypeForExtension(".heic")).To(Equal("image/heic"))
	})

	It("returns empty for unknown extensions", func() {
		Expect(ContentTypeForExtension(".docx")).To(BeEmpty())
	})
})
