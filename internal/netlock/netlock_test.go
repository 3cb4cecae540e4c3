package netlock

import (
	"sync"
	"testing"
)

func TestSameNameSerializes(t *testing.T) {
	l := New()

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock("lab")
			counter++
			l.Unlock("lab")
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestDifferentNamesDoNotBlock(t *testing.T) {
	l := New()
	l.Lock("a")
	defer l.Unlock("a")

	done := make(chan struct{})
	go func() {
		l.Lock("b")
		l.Unlock("b")
		close(done)
	}()

	<-done // would deadlock if "b" shared the mutex of "a"
}
