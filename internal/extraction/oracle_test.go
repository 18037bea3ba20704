package extraction

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ScannerOracle", func() {
	var (
		ctx      context.Context
		scanner  *mockScanner
		db       *mockDB
		patterns *PatternStore
		oracle   *ScannerOracle
		invoice  Invoice
		result   *OracleResult
		err      error
	)

	BeforeEach(func() {
		ctx = context.Background()
		scanner = newMockScanner()
		db = newMockDB()
		patterns = NewPatternStore(db, &sequenceIDGenerator{prefix: "pattern"}, &mockTimeSource{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)})
		oracle = NewScannerOracle(scanner, nil, patterns)
		invoice = Invoice{Filename: "VEND001_march.pdf", Data: []byte("%PDF")}
	})

	JustBeforeEach(func() {
		result, err = oracle.Extract(ctx, invoice)
	})

	When("the vendor has no pattern", func() {
		It("returns the scanned fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.VendorID).To(Equal("VEND001"))
			Expect(result.IBAN).To(Equal("GB29 NWBK 6016 1331 9268 19"))
			Expect(result.AccountName).To(Equal("Acme Supplies Ltd"))
			Expect(result.Confidence).To(Equal(0.95))
			Expect(result.Layout.LayoutType).To(Equal("standard"))
		})

		It("scans without a hint", func() {
			Expect(scanner.lastHint).To(BeNil())
		})

		It("derives the content type from the extension", func() {
			Expect(scanner.lastContentType).To(Equal("application/pdf"))
		})
	})

	When("the vendor has a pattern", func() {
		BeforeEach(func() {
			layout := standardLayout()
			layout.IBANSection.Location = "header"
			_, recordErr := patterns.Record(ctx, "VEND001", PatternHash(layout), 0.9, layout)
			Expect(recordErr).NotTo(HaveOccurred())
		})

		It("passes the learned locations as a hint", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(scanner.lastHint).NotTo(BeNil())
			Expect(scanner.lastHint.IBANLocation).To(Equal("header"))
			Expect(scanner.lastHint.AccountNameLocation).To(Equal("footer"))
		})
	})

	When("the pattern lookup fails", func() {
		BeforeEach(func() {
			db.errs["ListPatterns"] = errors.New("db down")
		})

		It("still scans, without a hint", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(scanner.lastHint).To(BeNil())
		})
	})

	When("a content type is supplied", func() {
		BeforeEach(func() {
			invoice.ContentType = "image/png"
		})

		It("passes it through", func() {
			Expect(scanner.lastContentType).To(Equal("image/png"))
		})
	})

	When("no vendor can be derived", func() {
		BeforeEach(func() {
			invoice.Filename = "_scan.pdf"
		})

		It("returns ErrUnknownVendor", func() {
			Expect(errors.Is(err, ErrUnknownVendor)).To(BeTrue())
		})
	})

	When("the scanner fails", func() {
		BeforeEach(func() {
			scanner.scanErr = errors.New("model unavailable")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("model unavailable")))
		})
	})
})
