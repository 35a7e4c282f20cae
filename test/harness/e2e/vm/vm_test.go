package vm

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ticos/ticos-e2e/internal/config"
	"libvirt.org/go/libvirt"
)

func TestVMSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "VM Suite")
}

var _ = Describe("VM backends", func() {
	var params TestVM

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		params = TestVM{
			TestDir:       dir,
			VMName:        "ticosd-e2e-1",
			DiskImagePath: filepath.Join(dir, "core-image.wic"),
			MemoryMiB:     1024,
			SSHPort:       2223,
		}
	})

	Context("NewVM", func() {
		It("selects the backend by name", func() {
			v, err := NewVM(config.VMBackendQemu, params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(BeAssignableToTypeOf(&VMInQemu{}))

			v, err = NewVM(config.VMBackendLibvirt, params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(BeAssignableToTypeOf(&VMInLibvirt{}))

			_, err = NewVM("vbox", params)
			Expect(err).To(MatchError(ContainSubstring(`unknown vm backend "vbox"`)))
		})

		It("has no console before it runs", func() {
			v, err := NewVM(config.VMBackendQemu, params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Console()).To(BeNil())
			Expect(v.GetConsoleOutput()).To(BeEmpty())
			Expect(v.IsRunning()).To(BeFalse())
			Expect(v.ForceDelete()).To(Succeed())
		})
	})

	Context("qemu", func() {
		It("renders the default arguments", func() {
			v, err := NewQemuVM(params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.QemuBinary).To(Equal("qemu-system-aarch64"))

			args, err := v.Args()
			Expect(err).ToNot(HaveOccurred())
			Expect(args).To(ContainElements(
				"1024",
				"if=none,format=raw,file="+params.DiskImagePath+",id=hd0",
				"user,id=net0,hostfwd=tcp::2223-:22",
				"mon:stdio",
				"ticosd-e2e-1",
			))
		})

		It("renders configured arguments", func() {
			params.QemuArgs = []string{"-m", "{{.MemoryMiB}}", "-hda", "{{.DiskImagePath}}"}
			v, err := NewQemuVM(params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Args()).To(Equal([]string{"-m", "1024", "-hda", params.DiskImagePath}))
		})

		It("rejects unknown template fields", func() {
			params.QemuArgs = []string{"{{.Kernel}}"}
			v, err := NewQemuVM(params)
			Expect(err).ToNot(HaveOccurred())
			_, err = v.Args()
			Expect(err).To(HaveOccurred())
		})

		It("refuses to start without a disk image", func() {
			v, err := NewQemuVM(params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Run()).To(MatchError(os.ErrNotExist))
		})
	})

	Context("libvirt", func() {
		It("renders a valid domain", func() {
			params.DiskImagePath = filepath.Join(params.TestDir, "a&b.wic")
			v, err := NewLibvirtVM(params)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.LibvirtUri).To(Equal("qemu:///session"))

			domainXML, err := v.DomainXML()
			Expect(err).ToNot(HaveOccurred())

			var domain struct {
				Name   string `xml:"name"`
				Memory int    `xml:"memory"`
				Disk   struct {
					Source struct {
						File string `xml:"file,attr"`
					} `xml:"source"`
				} `xml:"devices>disk"`
				Args []struct {
					Value string `xml:"value,attr"`
				} `xml:"commandline>arg"`
			}
			Expect(xml.Unmarshal([]byte(domainXML), &domain)).To(Succeed())
			Expect(domain.Name).To(Equal("ticosd-e2e-1"))
			Expect(domain.Memory).To(Equal(1024))
			Expect(domain.Disk.Source.File).To(Equal(params.DiskImagePath))
			Expect(domain.Args).To(ContainElement(HaveField("Value", "user,id=net0,hostfwd=tcp::2223-:22")))
		})

		It("falls back to a plain undefine only when the nvram flag is rejected", func() {
			rejected := libvirt.Error{Code: libvirt.ERR_INVALID_ARG, Message: "unsupported flags"}
			Expect(nvramFlagRejected(rejected)).To(BeTrue())
			Expect(nvramFlagRejected(fmt.Errorf("undefine: %w", rejected))).To(BeTrue())

			Expect(nvramFlagRejected(libvirt.Error{Code: libvirt.ERR_NO_DOMAIN})).To(BeFalse())
			Expect(nvramFlagRejected(fmt.Errorf("connection lost"))).To(BeFalse())
			Expect(nvramFlagRejected(nil)).To(BeFalse())
		})
	})
})
