package dispatcher_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/testillano/http2comm/dispatcher"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type blockingItem struct {
	release chan struct{}
	busy    int
	size    int
	done    chan struct{}
}

func newBlockingItem() *blockingItem {
	return &blockingItem{release: make(chan struct{}), done: make(chan struct{})}
}

func (b *blockingItem) Process(busy, size int) {
	b.busy, b.size = busy, size
	<-b.release
}

func (b *blockingItem) Commit() { close(b.done) }

type counterItem struct {
	n *int64
}

func (c counterItem) Process(int, int) { atomic.AddInt64(c.n, 1) }
func (c counterItem) Commit()          {}

type panicItem struct{ done chan struct{} }

func (p panicItem) Process(int, int) { panic("boom") }
func (p panicItem) Commit()          { close(p.done) }

var _ = Describe("Dispatcher", func() {
	It("rejects a non-positive base thread count", func() {
		_, err := dispatcher.New("bad", 0, 0, nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a maximum smaller than the base count", func() {
		_, err := dispatcher.New("bad", 4, 2, nil)
		Expect(err).To(HaveOccurred())
	})

	It("runs a single item through a single worker", func() {
		d, err := dispatcher.New("single", 1, 0, nil)
		Expect(err).ToNot(HaveOccurred())
		defer d.Stop()

		var n int64
		item := counterItem{n: &n}
		d.Dispatch(item)

		Eventually(func() int64 { return atomic.LoadInt64(&n) }, time.Second).Should(Equal(int64(1)))
	})

	It("spawns an extra worker when every thread is busy and below max", func() {
		d, err := dispatcher.New("elastic", 1, 2, nil)
		Expect(err).ToNot(HaveOccurred())
		defer d.Stop()

		first := newBlockingItem()
		d.Dispatch(first)
		Eventually(func() int { return d.BusyThreads() }, time.Second).Should(Equal(1))

		second := newBlockingItem()
		d.Dispatch(second)
		Eventually(func() int { return d.Threads() }, time.Second).Should(Equal(2))

		close(first.release)
		close(second.release)
		<-first.done
		<-second.done
	})

	It("never exceeds the configured maximum thread count", func() {
		d, err := dispatcher.New("bounded", 1, 2, nil)
		Expect(err).ToNot(HaveOccurred())
		defer d.Stop()

		items := make([]*blockingItem, 3)
		for i := range items {
			items[i] = newBlockingItem()
			d.Dispatch(items[i])
		}

		Eventually(func() int { return d.Threads() }, time.Second).Should(Equal(2))
		Consistently(func() int { return d.Threads() }, 200*time.Millisecond).Should(Equal(2))

		for _, it := range items {
			select {
			case <-it.release:
			default:
				close(it.release)
			}
		}
	})

	It("discards queued items on Stop instead of draining them", func() {
		d, err := dispatcher.New("draining", 1, 0, nil)
		Expect(err).ToNot(HaveOccurred())

		first := newBlockingItem()
		d.Dispatch(first)
		Eventually(func() int { return d.BusyThreads() }, time.Second).Should(Equal(1))

		var n int64
		d.Dispatch(counterItem{n: &n})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Stop()
		}()

		close(first.release)
		<-first.done
		wg.Wait()

		Expect(atomic.LoadInt64(&n)).To(Equal(int64(0)))
	})

	It("recovers from a panicking item without killing the worker", func() {
		d, err := dispatcher.New("resilient", 1, 0, nil)
		Expect(err).ToNot(HaveOccurred())
		defer d.Stop()

		p := panicItem{done: make(chan struct{})}
		d.Dispatch(p)
		Eventually(p.done, time.Second).Should(BeClosed())

		var n int64
		d.Dispatch(counterItem{n: &n})
		Eventually(func() int64 { return atomic.LoadInt64(&n) }, time.Second).Should(Equal(int64(1)))
	})
})
