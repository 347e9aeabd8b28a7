package reconnect

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Hosts", func() {
	var path string
	var hosts *Hosts

	const initial = "127.0.0.1 localhost\n" +
		"::1 localhost ip6-localhost\n" +
		"10.0.0.1 fd.old\n"

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "hosts")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		path = filepath.Join(dir, "hosts")
		Expect(os.WriteFile(path, []byte(initial), 0644)).To(Succeed())
		hosts = NewHosts(path)
	})

	It("finds a two field record", func() {
		Expect(hosts.Lookup("fd.old")).To(Equal("10.0.0.1"))
	})

	It("ignores names inside longer lines", func() {
		Expect(hosts.Lookup("ip6-localhost")).To(BeEmpty())
	})

	It("replaces the old record with the new one", func() {
		Expect(hosts.Update("10.0.0.2", "fd.old", "fd.new")).To(Succeed())

		Expect(hosts.Lookup("fd.old")).To(BeEmpty())
		Expect(hosts.Lookup("fd.new")).To(Equal("10.0.0.2"))

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(HavePrefix("127.0.0.1 localhost\n::1 localhost ip6-localhost\n"))
	})

	It("does not duplicate a record for an unchanged name", func() {
		Expect(hosts.Update("10.0.0.3", "fd.old", "fd.old")).To(Succeed())
		Expect(hosts.Update("10.0.0.4", "fd.old", "fd.old")).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(HaveSuffix("::1 localhost ip6-localhost\n10.0.0.4 fd.old\n"))
	})

	It("fails when the file is missing", func() {
		_, err := NewHosts(filepath.Join(filepath.Dir(path), "missing", "hosts")).Lookup("fd.old")
		Expect(err).To(HaveOccurred())
	})
})
