package network_test

import (
	"sync"

	. "github.com/moby/flowkit/network"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/moby/flowkit/errdefs"
)

var _ = Describe("PortDistributor", func() {
	var (
		pd *PortDistributor
	)

	BeforeEach(func() {
		pd = NewPortDistributor()
	})

	Describe("leasing ports for one ip", func() {
		It("should hand out the range in order and then fail", func() {
			for _, want := range []int32{1024, 1025, 1026} {
				port, err := pd.AllocatePort("10.1.1.1", "1024~1026")
				Expect(err).ToNot(HaveOccurred())
				Expect(port).To(Equal(want))
			}
			_, err := pd.AllocatePort("10.1.1.1", "1024~1026")
			Expect(err).To(HaveOccurred())
			Expect(errdefs.IsParamInvalid(err)).To(BeTrue())
		})

		It("should start over after Finalize", func() {
			for i := 0; i < 3; i++ {
				_, err := pd.AllocatePort("10.1.1.1", "1024~1026")
				Expect(err).ToNot(HaveOccurred())
			}
			pd.Finalize()
			port, err := pd.AllocatePort("10.1.1.1", "1024~1026")
			Expect(err).ToNot(HaveOccurred())
			Expect(port).To(Equal(int32(1024)))
		})

		It("should return lo+k-1 for the k-th lease of a larger range", func() {
			for k := 1; k <= 200; k++ {
				port, err := pd.AllocatePort("10.1.1.2", "20000~20199")
				Expect(err).ToNot(HaveOccurred())
				Expect(port).To(Equal(int32(20000 + k - 1)))
			}
			_, err := pd.AllocatePort("10.1.1.2", "20000~20199")
			Expect(errdefs.IsParamInvalid(err)).To(BeTrue())
		})

		It("should keep the range recorded with the first lease", func() {
			port, err := pd.AllocatePort("10.1.1.3", "3000~3000")
			Expect(err).ToNot(HaveOccurred())
			Expect(port).To(Equal(int32(3000)))
			_, err = pd.AllocatePort("10.1.1.3", "4000~4010")
			Expect(errdefs.IsParamInvalid(err)).To(BeTrue())
		})
	})

	Describe("leasing ports for several ips", func() {
		It("should track every ip independently", func() {
			a, err := pd.AllocatePort("10.1.1.1", "1024~1025")
			Expect(err).ToNot(HaveOccurred())
			b, err := pd.AllocatePort("10.1.1.2", "1024~1025")
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(Equal(int32(1024)))
			Expect(b).To(Equal(int32(1024)))

			a, err = pd.AllocatePort("10.1.1.1", "1024~1025")
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(Equal(int32(1025)))
			_, err = pd.AllocatePort("10.1.1.1", "1024~1025")
			Expect(err).To(HaveOccurred())

			b, err = pd.AllocatePort("10.1.1.2", "1024~1025")
			Expect(err).ToNot(HaveOccurred())
			Expect(b).To(Equal(int32(1025)))
		})

		It("should never hand out the same port twice under concurrency", func() {
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				seen  = make(map[int32]struct{})
				fails int
			)
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					port, err := pd.AllocatePort("10.2.0.1", "5000~5049")
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						fails++
						return
					}
					seen[port] = struct{}{}
				}()
			}
			wg.Wait()
			Expect(seen).To(HaveLen(50))
			Expect(fails).To(Equal(14))
		})
	})

	Describe("validating the range", func() {
		It("should reject malformed ranges before allocating", func() {
			for _, r := range []string{"", "1024", "1024~", "a~b", "2000~1500", "0~1026", "1024~70000", "1024~1025~1026"} {
				_, err := pd.AllocatePort("10.1.1.1", r)
				Expect(errdefs.IsParamInvalid(err)).To(BeTrue(), "range %q", r)
			}
			port, err := pd.AllocatePort("10.1.1.1", "1024~1026")
			Expect(err).ToNot(HaveOccurred())
			Expect(port).To(Equal(int32(1024)))
		})
	})
})
