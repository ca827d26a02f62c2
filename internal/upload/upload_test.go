package upload_test

import (
	"bytes"
	"mime/multipart"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mmahmood233/localhost/internal/upload"
)

func buildMultipartBody(fieldName, fileName, content string) (body []byte, contentType string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile(fieldName, fileName)
	part.Write([]byte(content))
	w.Close()
	return buf.Bytes(), w.FormDataContentType()
}

var _ = Describe("Handler.Store", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "upload-test-*")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("writes a raw body using the request path's final segment as filename", func() {
		h := &upload.Handler{Dir: dir}
		result := h.Store("/uploads/hello.txt", "text/plain", []byte("hi there"))
		Expect(result.Outcome).To(Equal(upload.OutcomeCreated))
		Expect(result.Filename).To(Equal("hello.txt"))

		contents, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(contents)).To(Equal("hi there"))
	})

	It("extracts the first file part from a multipart/form-data body", func() {
		body, ct := buildMultipartBody("file", "picture.png", "binary-ish-data")
		h := &upload.Handler{Dir: dir}

		result := h.Store("/uploads/ignored", ct, body)
		Expect(result.Outcome).To(Equal(upload.OutcomeCreated))
		Expect(result.Filename).To(Equal("picture.png"))

		contents, err := os.ReadFile(filepath.Join(dir, "picture.png"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(contents)).To(Equal("binary-ish-data"))
	})

	It("never overwrites an existing file, instead picking a numeric suffix", func() {
		h := &upload.Handler{Dir: dir}
		first := h.Store("/uploads/dup.txt", "text/plain", []byte("first"))
		Expect(first.Outcome).To(Equal(upload.OutcomeCreated))
		Expect(first.Filename).To(Equal("dup.txt"))

		second := h.Store("/uploads/dup.txt", "text/plain", []byte("second"))
		Expect(second.Outcome).To(Equal(upload.OutcomeCreated))
		Expect(second.Filename).To(Equal("dup-1.txt"))

		firstContents, _ := os.ReadFile(filepath.Join(dir, "dup.txt"))
		Expect(string(firstContents)).To(Equal("first"))
	})

	It("rejects a body larger than MaxBodySize", func() {
		h := &upload.Handler{Dir: dir, MaxBodySize: 4}
		result := h.Store("/uploads/big.txt", "text/plain", []byte("way too big"))
		Expect(result.Outcome).To(Equal(upload.OutcomeTooLarge))
	})

	It("sanitizes a filename with directory components and '..' segments", func() {
		h := &upload.Handler{Dir: dir}
		result := h.Store("/uploads/../../etc/passwd", "text/plain", []byte("nope"))
		Expect(result.Outcome).To(Equal(upload.OutcomeCreated))
		Expect(result.Filename).To(Equal("passwd"))
		Expect(filepath.Dir(result.Path)).To(Equal(dir))
	})
})

var _ = Describe("Handler.Delete", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "upload-delete-test-*")
		Expect(err).ToNot(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(dir, "victim.txt"), []byte("bye"), 0o644)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("deletes a file whose request path falls under the whitelist", func() {
		h := &upload.Handler{Dir: dir, DeleteWhitelist: "/uploads/"}
		result := h.Delete("/uploads/victim.txt")
		Expect(result.Outcome).To(Equal(upload.OutcomeDeleted))
		_, err := os.Stat(filepath.Join(dir, "victim.txt"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("refuses a path outside the whitelist", func() {
		h := &upload.Handler{Dir: dir, DeleteWhitelist: "/uploads/"}
		result := h.Delete("/etc/passwd")
		Expect(result.Outcome).To(Equal(upload.OutcomeForbidden))
		_, err := os.Stat(filepath.Join(dir, "victim.txt"))
		Expect(err).ToNot(HaveOccurred())
	})

	It("reports not-found for a whitelisted path that doesn't exist", func() {
		h := &upload.Handler{Dir: dir, DeleteWhitelist: "/uploads/"}
		result := h.Delete("/uploads/ghost.txt")
		Expect(result.Outcome).To(Equal(upload.OutcomeNotFound))
	})
})
