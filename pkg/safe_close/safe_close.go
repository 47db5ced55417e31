/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of tcptune.
 *
 * tcptune is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * tcptune is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package safe_close

import "sync"

// SafeClose coordinates the shutdown of a service and its goroutines.
//
// 1. Service goroutines are started by Attach and watch closeSignal.
// 2. Any goroutine, or a third party, calls SendCloseSignal to stop the service.
//    The first error passed to SendCloseSignal is kept.
// 3. WaitClosed blocks until the close signal was sent and every Attach-ed
//    goroutine called done. It must not be called from an Attach-ed goroutine.
type SafeClose struct {
	m           sync.Mutex
	wg          sync.WaitGroup
	closeSignal chan struct{}
	closeErr    error
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
	}
}

// SendCloseSignal sends a close signal. Only the first call takes effect.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	select {
	case <-s.closeSignal:
	default:
		s.closeErr = err
		close(s.closeSignal)
	}
}

// Err returns the first SendCloseSignal error.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Attach runs f in a new goroutine tracked by WaitClosed.
// f must call done when it returns. done can be called multiple times.
// If s was closed, f will not run.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.m.Lock()
	defer s.m.Unlock()
	select {
	case <-s.closeSignal:
		return
	default:
	}

	s.wg.Add(1)
	var once sync.Once
	done := func() { once.Do(s.wg.Done) }
	go f(done, s.closeSignal)
}

// WaitClosed waits for the close signal and all Attach-ed goroutines,
// then returns the first SendCloseSignal error.
func (s *SafeClose) WaitClosed() error {
	<-s.closeSignal
	s.wg.Wait()
	return s.Err()
}

// CloseWait sends a nil close signal and waits until s is closed.
func (s *SafeClose) CloseWait() error {
	s.SendCloseSignal(nil)
	return s.WaitClosed()
}
