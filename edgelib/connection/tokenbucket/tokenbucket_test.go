package tokenbucket

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTokenBucket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TokenBucket Suite")
}

var _ = Describe("TokenBucket", func() {
	When("the bucket never refills", func() {
		It("admits exactly capacity frames", func() {
			bucket := New(10, 0)

			admitted := 0
			for i := 0; i < 11; i++ {
				if bucket.Consume(1) {
					admitted++
				}
			}
			Expect(admitted).To(Equal(10))
		})

		It("refuses a request larger than what is left", func() {
			bucket := New(3, 0)
			Expect(bucket.Consume(2)).To(BeTrue())
			Expect(bucket.Consume(2)).To(BeFalse())
			Expect(bucket.Consume(1)).To(BeTrue())
		})
	})

	When("the bucket refills", func() {
		It("admits more frames after waiting", func() {
			bucket := New(1, 100)
			Expect(bucket.Consume(1)).To(BeTrue())
			Expect(bucket.Consume(1)).To(BeFalse())

			Eventually(func() bool { return bucket.Consume(1) }, time.Second, 5*time.Millisecond).Should(BeTrue())
		})
	})
})
