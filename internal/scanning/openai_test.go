package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("OpenAI", func() {
	var (
		server  *ghttp.Server
		scanner *OpenAI
		data    *InvoiceData
		err     error
	)

	pngBytes := []byte("\x89PNG\r\n\x1a\nnot-really-an-image")

	chatResponse := func(content string) map[string]any {
		return map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
				},
			},
		}
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		scanner, err = NewOpenAI("test-key", server.URL()+"/v1", "gpt-4o")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		data, err = scanner.ScanInvoice(context.Background(), pngBytes, "image/png", nil)
	})

	When("the model answers with valid JSON", func() {
		var body map[string]any

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					raw, _ := io.ReadAll(r.Body)
					Expect(json.Unmarshal(raw, &body)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, chatResponse(
					`{"iban": "DE89370400440532013000", "account_name": "Muster GmbH", "confidence": 0.88, "notes": "blurry"}`,
				)),
			))
		})

		It("returns the parsed data", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(data.IBAN).To(Equal("DE89370400440532013000"))
			Expect(data.AccountName).To(Equal("Muster GmbH"))
			Expect(data.Confidence).To(Equal(0.88))
			Expect(data.Notes).To(Equal("blurry"))
		})

		It("asks for a JSON object and sends the image as a data URL", func() {
			Expect(body["model"]).To(Equal("gpt-4o"))
			Expect(body["response_format"]).To(HaveKeyWithValue("type", "json_object"))
			messages := body["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			user := messages[1].(map[string]any)
			parts := user["content"].([]any)
			Expect(parts).To(HaveLen(2))
			image := parts[1].(map[string]any)["image_url"].(map[string]any)
			Expect(image["url"]).To(HavePrefix("data:image/png;base64,"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]any{
				"error": map[string]any{"message": "overloaded", "type": "server_error"},
			}))
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("there are no choices", func() {
		BeforeEach(func() {
			resp := chatResponse("")
			resp["choices"] = []map[string]any{}
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, resp))
		})

		It("returns a malformed response error", func() {
			Expect(err).To(MatchError(ErrMalformedResponse))
		})
	})

	It("requires an API key", func() {
		_, err := NewOpenAI("", "", "")
		Expect(err).To(HaveOccurred())
	})
})
