package iban

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Format", func() {
	It("groups characters in blocks of four", func() {
		Expect(Format("GB29NWBK60161331926819")).To(Equal("GB29 NWBK 6016 1331 9268 19"))
	})

	It("normalizes before grouping", func() {
		Expect(Format("de89 3704-0044 0532 0130 00")).To(Equal("DE89 3704 0044 0532 0130 00"))
	})

	It("returns an empty string for empty input", func() {
		Expect(Format("")).To(BeEmpty())
	})
})

var _ = Describe("Mask", func() {
	It("keeps the country code and the last four characters", func() {
		Expect(Mask("IE29AIBK93115212345678")).To(Equal("IE****************5678"))
	})

	It("leaves very short values alone", func() {
		Expect(Mask("IE29")).To(Equal("IE29"))
	})
})

var _ = Describe("CountryCode", func() {
	It("returns the uppercase prefix", func() {
		Expect(CountryCode(" ie29 aibk")).To(Equal("IE"))
	})

	It("returns empty for short input", func() {
		Expect(CountryCode("I")).To(BeEmpty())
	})
})
