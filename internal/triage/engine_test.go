package triage

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/iban-extractor/internal/iban"
)

var _ = Describe("NewEngine", func() {
	It("accepts the default configuration", func() {
		engine, err := NewEngine(DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Config().HighThreshold).To(Equal(0.90))
		Expect(engine.Config().LowThreshold).To(Equal(0.70))
	})

	It("rejects every pair where low is not below high", func() {
		for high := 0.05; high <= 1.0; high += 0.05 {
			for low := high; low <= 1.0; low += 0.05 {
				_, err := NewEngine(Config{HighThreshold: high, LowThreshold: low, DriftThreshold: 0.8})
				Expect(err).To(MatchError(ErrInvalidConfiguration), fmt.Sprintf("high=%v low=%v", high, low))
			}
		}
	})

	It("rejects equal thresholds", func() {
		_, err := NewEngine(Config{HighThreshold: 0.8, LowThreshold: 0.8, DriftThreshold: 0.8})
		Expect(err).To(MatchError(ErrInvalidConfiguration))
	})

	It("rejects a high threshold outside (0,1]", func() {
		for _, high := range []float64{0, -0.1, 1.01} {
			_, err := NewEngine(Config{HighThreshold: high, LowThreshold: 0, DriftThreshold: 0.8})
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		}
	})

	It("rejects a negative low threshold", func() {
		_, err := NewEngine(Config{HighThreshold: 0.9, LowThreshold: -0.1, DriftThreshold: 0.8})
		Expect(err).To(MatchError(ErrInvalidConfiguration))
	})

	It("rejects a drift threshold outside (0,1]", func() {
		for _, drift := range []float64{0, 1.5} {
			_, err := NewEngine(Config{HighThreshold: 0.9, LowThreshold: 0.7, DriftThreshold: drift})
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		}
	})
})

var _ = Describe("Engine", func() {
	const referenceIBAN = "GB29NWBK60161331926819"

	var (
		engine     *Engine
		result     iban.Result
		confidence float64
		history    VendorHistory
		decision   Decision
	)

	BeforeEach(func() {
		var err error
		engine, err = NewEngine(DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		result = iban.Validate(referenceIBAN)
		history = VendorHistory{VendorID: "VEND001"}
	})

	JustBeforeEach(func() {
		decision = engine.Evaluate(result, confidence, history)
	})

	When("a known-good IBAN comes back at 0.95", func() {
		BeforeEach(func() {
			confidence = 0.95
		})

		It("is validated", func() {
			Expect(result.Valid).To(BeTrue())
			Expect(decision.Disposition).To(Equal(Validated))
			Expect(decision.Reason).To(BeEmpty())
			Expect(decision.Level).To(Equal(LevelHigh))
		})

		It("raises no alerts", func() {
			Expect(decision.Alerts).To(BeEmpty())
		})
	})

	When("the confidence is 0.75", func() {
		BeforeEach(func() {
			confidence = 0.75
		})

		It("is pending with exactly one low_confidence alert", func() {
			Expect(decision.Disposition).To(Equal(Pending))
			Expect(decision.Level).To(Equal(LevelMedium))
			Expect(decision.Alerts).To(HaveLen(1))
			Expect(decision.Alerts[0].Type).To(Equal(AlertLowConfidence))
			Expect(decision.Alerts[0].Severity).To(Equal(SeverityMedium))
		})
	})

	When("the confidence is 0.50", func() {
		BeforeEach(func() {
			confidence = 0.50
		})

		It("is rejected for low confidence", func() {
			Expect(decision.Disposition).To(Equal(Rejected))
			Expect(decision.Reason).To(Equal(BelowMinimumConfidence))
			Expect(decision.Level).To(Equal(LevelLow))
		})
	})

	When("the IBAN fails validation", func() {
		BeforeEach(func() {
			result = iban.Validate("IE00AIBK93115212345678")
			confidence = 0.99
		})

		It("is rejected with the validator's reason", func() {
			Expect(decision.Disposition).To(Equal(Rejected))
			Expect(decision.Reason).To(Equal(string(iban.ChecksumFailed)))
		})
	})

	When("the vendor previously validated a different IBAN", func() {
		BeforeEach(func() {
			history.LastValidatedIBAN = "GB82WEST12345698765432"
			confidence = 0.95
		})

		It("keeps the validated disposition", func() {
			Expect(decision.Disposition).To(Equal(Validated))
		})

		It("raises a high severity iban_change alert", func() {
			Expect(decision.Alerts).To(HaveLen(1))
			Expect(decision.Alerts[0].Type).To(Equal(AlertIBANChange))
			Expect(decision.Alerts[0].Severity).To(Equal(SeverityHigh))
		})

		It("never puts the full IBAN in the alert data", func() {
			Expect(decision.Alerts[0].Data["old_iban"]).To(Equal(iban.Mask("GB82WEST12345698765432")))
			Expect(decision.Alerts[0].Data["new_iban"]).To(Equal(iban.Mask(referenceIBAN)))
		})
	})

	When("the previous IBAN was in another country", func() {
		BeforeEach(func() {
			history.LastValidatedIBAN = "DE89370400440532013000"
			confidence = 0.95
		})

		It("keeps the alert at high severity and flags the country change", func() {
			Expect(decision.Alerts).To(HaveLen(1))
			Expect(decision.Alerts[0].Severity).To(Equal(SeverityHigh))
			Expect(decision.Alerts[0].Data["country_changed"]).To(BeTrue())
			Expect(decision.Alerts[0].Message).To(ContainSubstring("country DE to GB"))
		})
	})

	When("the previous IBAN is the same", func() {
		BeforeEach(func() {
			history.LastValidatedIBAN = referenceIBAN
			confidence = 0.95
		})

		It("raises no alert", func() {
			Expect(decision.Alerts).To(BeEmpty())
		})
	})

	When("a changed IBAN comes in at low confidence", func() {
		BeforeEach(func() {
			history.LastValidatedIBAN = "GB82WEST12345698765432"
			confidence = 0.75
		})

		It("raises both alerts and stays pending", func() {
			Expect(decision.Disposition).To(Equal(Pending))
			Expect(decision.Alerts).To(HaveLen(2))
			Expect(decision.Alerts[0].Type).To(Equal(AlertLowConfidence))
			Expect(decision.Alerts[1].Type).To(Equal(AlertIBANChange))
		})
	})

	Describe("pattern drift", func() {
		BeforeEach(func() {
			history.PatternHash = "abc"
			history.PatternUsage = 3
			history.PatternConfidence = 0.95
			confidence = 0.93
		})

		When("the incoming layout hash differs", func() {
			BeforeEach(func() {
				history.IncomingHash = "def"
			})

			It("raises a pattern_drift alert without changing the disposition", func() {
				Expect(decision.Disposition).To(Equal(Validated))
				Expect(decision.Alerts).To(HaveLen(1))
				Expect(decision.Alerts[0].Type).To(Equal(AlertPatternDrift))
				Expect(decision.Alerts[0].Severity).To(Equal(SeverityMedium))
			})
		})

		When("the hash matches and confidence is close to the baseline", func() {
			BeforeEach(func() {
				history.IncomingHash = "abc"
			})

			It("raises nothing", func() {
				Expect(decision.Alerts).To(BeEmpty())
			})
		})

		When("the hash matches but confidence falls well below the baseline", func() {
			BeforeEach(func() {
				history.IncomingHash = "abc"
				confidence = 0.72
			})

			It("raises a pattern_drift alert alongside low_confidence", func() {
				Expect(decision.Disposition).To(Equal(Pending))
				types := []AlertType{}
				for _, a := range decision.Alerts {
					types = append(types, a.Type)
				}
				Expect(types).To(ConsistOf(AlertLowConfidence, AlertPatternDrift))
			})
		})

		When("the vendor has no established pattern", func() {
			BeforeEach(func() {
				history.PatternUsage = 0
				history.IncomingHash = "def"
			})

			It("raises nothing", func() {
				Expect(decision.Alerts).To(BeEmpty())
			})
		})
	})

	Describe("monotonicity", func() {
		rank := map[Disposition]int{Rejected: 0, Pending: 1, Validated: 2}

		It("never moves to a lower disposition as confidence increases", func() {
			valid := iban.Validate(referenceIBAN)
			previous := -1
			for i := 0; i <= 1000; i++ {
				c := float64(i) / 1000
				d := engine.Evaluate(valid, c, VendorHistory{})
				Expect(rank[d.Disposition]).To(BeNumerically(">=", previous), fmt.Sprintf("confidence %v", c))
				previous = rank[d.Disposition]
			}
			Expect(previous).To(Equal(rank[Validated]))
		})

		It("holds for custom thresholds too", func() {
			custom, err := NewEngine(Config{HighThreshold: 0.6, LowThreshold: 0.2, DriftThreshold: 1})
			Expect(err).NotTo(HaveOccurred())
			valid := iban.Validate(referenceIBAN)
			Expect(custom.Evaluate(valid, 0.19, VendorHistory{}).Disposition).To(Equal(Rejected))
			Expect(custom.Evaluate(valid, 0.2, VendorHistory{}).Disposition).To(Equal(Pending))
			Expect(custom.Evaluate(valid, 0.6, VendorHistory{}).Disposition).To(Equal(Validated))
		})
	})
})
