package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

var _ = Describe("Queue", func() {
	var q *Queue

	BeforeEach(func() {
		q = New("to-mef")
	})

	It("is first in first out", func() {
		q.Put([]byte("a"))
		q.Put([]byte("b"))
		Expect(q.Len()).To(Equal(2))

		first, err := q.GetNowait()
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(Equal([]byte("a")))

		second, _ := q.GetNowait()
		Expect(second).To(Equal([]byte("b")))
	})

	It("reports empty without blocking", func() {
		_, err := q.GetNowait()
		Expect(err).To(MatchError(ErrEmpty))
	})

	It("wakes a blocked getter when an item arrives", func() {
		got := make(chan []byte, 1)
		go func() {
			defer GinkgoRecover()
			message, err := q.Get(context.Background())
			Expect(err).ToNot(HaveOccurred())
			got <- message
		}()

		time.Sleep(10 * time.Millisecond)
		q.Put([]byte("late"))
		Eventually(got).Should(Receive(Equal([]byte("late"))))
	})

	It("stops a blocked getter when the context ends", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := q.Get(ctx)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("loses nothing across concurrent producers", func() {
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					q.Put([]byte(fmt.Sprintf("%d-%d", p, i)))
				}
			}(p)
		}
		wg.Wait()

		Expect(q.Len()).To(Equal(400))
		Expect(q.Drain()).To(Equal(400))
		Expect(q.Len()).To(BeZero())
	})
})
