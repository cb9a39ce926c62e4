package emailsvc

import "sync"

// maxConcurrentSends caps the messages a service sends at once.
const maxConcurrentSends = 8

// sendPool runs sends in the background, at most cap(sem) at a time.
type sendPool struct {
	wg  *sync.WaitGroup
	sem chan struct{}
}

func newSendPool(size int) sendPool {
	return sendPool{wg: new(sync.WaitGroup), sem: make(chan struct{}, size)}
}

// Go blocks while the pool is full.
func (p sendPool) Go(fn func()) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
}

func (p sendPool) Wait() { p.wg.Wait() }
