package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mmahmood233/localhost/internal/config"
)

const minimalYAML = `
listeners:
  - address: "0.0.0.0"
    port: 8080
    vhosts:
      - name: main
        server_names: ["example.com"]
        default: true
        document_root: /var/www
        routes:
          - path: "/"
            methods: ["GET", "HEAD"]
`

func writeTempConfig(body string) string {
	dir, err := os.MkdirTemp("", "config-test-*")
	Expect(err).ToNot(HaveOccurred())
	path := filepath.Join(dir, "config.yaml")
	Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	It("parses a minimal valid configuration", func() {
		path := writeTempConfig(minimalYAML)
		defer os.RemoveAll(filepath.Dir(path))

		cfg, err := config.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Listeners).To(HaveLen(1))
		Expect(cfg.Listeners[0].Port).To(Equal(8080))
		Expect(cfg.Listeners[0].VHosts).To(HaveLen(1))
		Expect(cfg.Listeners[0].VHosts[0].Default).To(BeTrue())
	})

	It("applies default timeouts and body-size limits when omitted", func() {
		path := writeTempConfig(minimalYAML)
		defer os.RemoveAll(filepath.Dir(path))

		cfg, err := config.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Timeouts).To(Equal(config.DefaultTimeouts()))
		Expect(cfg.MaxBodySize).To(BeNumerically(">", 0))
		Expect(cfg.MaxHeaderBytes).To(BeNumerically(">", 0))
	})

	It("rejects a file that does not exist", func() {
		_, err := config.Load("/no/such/config.yaml")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a configuration with no listeners", func() {
		path := writeTempConfig("listeners: []\n")
		defer os.RemoveAll(filepath.Dir(path))

		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects two default vhosts on the same listener", func() {
		const body = `
listeners:
  - address: "0.0.0.0"
    port: 8080
    vhosts:
      - name: a
        default: true
        document_root: /var/www/a
        routes:
          - path: "/"
            methods: ["GET"]
      - name: b
        default: true
        document_root: /var/www/b
        routes:
          - path: "/"
            methods: ["GET"]
`
		path := writeTempConfig(body)
		defer os.RemoveAll(filepath.Dir(path))

		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a route with an invalid redirect status", func() {
		const body = `
listeners:
  - address: "0.0.0.0"
    port: 8080
    vhosts:
      - name: main
        default: true
        document_root: /var/www
        routes:
          - path: "/old"
            methods: ["GET"]
            redirect:
              status: 200
              target: /new
`
		path := writeTempConfig(body)
		defer os.RemoveAll(filepath.Dir(path))

		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Route.EffectiveMaxBodySize", func() {
	It("prefers route, then vhost, then the global default", func() {
		cfg := &config.Config{MaxBodySize: 100}
		vhost := &config.VirtualHost{MaxBodySize: 200}

		withRoute := &config.Route{MaxBodySize: 300}
		Expect(withRoute.EffectiveMaxBodySize(vhost, cfg)).To(Equal(int64(300)))

		withoutRoute := &config.Route{}
		Expect(withoutRoute.EffectiveMaxBodySize(vhost, cfg)).To(Equal(int64(200)))

		Expect(withoutRoute.EffectiveMaxBodySize(&config.VirtualHost{}, cfg)).To(Equal(int64(100)))
	})
})
