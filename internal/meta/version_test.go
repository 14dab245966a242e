package meta_test

import (
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taraaggoun/megaphone/internal/meta"
)

var _ = Describe("GetInfo", func() {
	AfterEach(func() {
		meta.Version = ""
	})

	It("describes the running platform", func() {
		info := meta.GetInfo()
		Expect(info.GoVersion).To(Equal(runtime.Version()))
		Expect(info.Platform).To(Equal(runtime.GOOS + " " + runtime.GOARCH))
	})

	It("reports dev builds", func() {
		Expect(meta.UserAgent()).To(Equal("megaphone/dev"))
		Expect(meta.GetInfo().String()).To(HavePrefix("megaphone dev "))
	})

	It("reports the linked version", func() {
		meta.Version = "1.2.0"
		Expect(meta.UserAgent()).To(Equal("megaphone/1.2.0"))
		Expect(meta.GetInfo().String()).To(HavePrefix("megaphone 1.2.0 "))
	})
})
