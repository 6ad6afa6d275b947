package config_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/tommy351/reqecho/pkg/config"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ReadConfig", func() {
	var (
		args []string
		conf *config.Config
		err  error
	)

	BeforeEach(func() {
		args = nil
	})

	JustBeforeEach(func() {
		conf, err = config.ReadConfig(args...)
	})

	Describe("given nothing", func() {
		It("should use defaults", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(conf.Server.Address).To(Equal("127.0.0.1:8080"))
			Expect(conf.Server.H2C).To(BeTrue())
			Expect(conf.Server.WireOrder).To(BeTrue())
			Expect(conf.Server.ShutdownTimeout).To(Equal(time.Second * 5))
			Expect(conf.ClientIP.Source).To(Equal("connect-info"))
			Expect(conf.Log.Level).To(Equal("info"))
			Expect(conf.History.Size).To(Equal(100))
			Expect(conf.Registry.Enabled).To(BeFalse())
		})
	})

	Describe("given environment variables", func() {
		BeforeEach(func() {
			os.Setenv("SERVER_ADDRESS", "0.0.0.0:9000")
			os.Setenv("LOG_LEVEL", "debug")
			os.Setenv("CLIENTIP_SOURCE", "rightmost-x-forwarded-for")
			os.Setenv("CLIENTIP_TRUSTEDPROXIES", "10.0.0.0/8,192.168.0.1")
		})

		AfterEach(func() {
			os.Unsetenv("SERVER_ADDRESS")
			os.Unsetenv("LOG_LEVEL")
			os.Unsetenv("CLIENTIP_SOURCE")
			os.Unsetenv("CLIENTIP_TRUSTEDPROXIES")
		})

		It("should override defaults", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(conf.Server.Address).To(Equal("0.0.0.0:9000"))
			Expect(conf.Log.Level).To(Equal("debug"))
			Expect(conf.ClientIP.Source).To(Equal("rightmost-x-forwarded-for"))
			Expect(conf.ClientIP.TrustedProxies).To(Equal([]string{"10.0.0.0/8", "192.168.0.1"}))
		})
	})

	Describe("given a config file", func() {
		var dir string

		BeforeEach(func() {
			dir, err = ioutil.TempDir("", "reqecho-config")
			Expect(err).NotTo(HaveOccurred())

			path := filepath.Join(dir, "config.yaml")
			Expect(ioutil.WriteFile(path, []byte("server:\n  adminAddress: 127.0.0.1:8081\nhistory:\n  size: 5\n"), 0o600)).To(Succeed())
			args = []string{"--config", path}
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("should merge the file over defaults", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(conf.Server.AdminAddress).To(Equal("127.0.0.1:8081"))
			Expect(conf.Server.Address).To(Equal("127.0.0.1:8080"))
			Expect(conf.History.Size).To(Equal(5))
		})
	})

	Describe("given a missing config file", func() {
		BeforeEach(func() {
			args = []string{"--config", "/nonexistent/reqecho.yaml"}
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("given an unsupported log format", func() {
		BeforeEach(func() {
			os.Setenv("LOG_FORMAT", "xml")
		})

		AfterEach(func() {
			os.Unsetenv("LOG_FORMAT")
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})
