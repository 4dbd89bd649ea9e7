// A lock on a key is needed to make sure multiple ref updates for the same
// view are not occuring at the same time.
//
// This is achieved by [Svc] holding a map guarded by a channel of capacity
// one. Each update operation races to set the key of the map to a channel.
//
// When trying to lock the key:
//  1. lock the map
//  2. check if the key has a corresponding channel
//  3. if the key does have a channel, unlock the map, wait on the channel
//     until it is closed, then go to 1.
//  4. if the key doesn't have a channel, create a new channel, set it to
//     the key in the map, unlock the map, and return the channel to the
//     calling operation.
//
// When unlocking the key, the calling operation locks the map, deletes the
// channel from the map, then closes the channel to notify all other waiting
// operations.

package svc

import "context"

// emptyForChan is just that
type emptyForChan struct{}

// waitingChan contains the waiting channel
type waitingChan struct {
	c <-chan emptyForChan
}

func newWaiter() (*waitingChan, chan<- emptyForChan) {
	c := make(chan emptyForChan)
	return &waitingChan{
		c: c,
	}, c
}

// Done is like context's Done function, wait on the channel
// for the cancellation
func (w *waitingChan) Done() <-chan emptyForChan {
	return w.c
}

// lockId tries to lock the given key.
func (s *Svc) lockId(ctx context.Context, id string) (chan<- emptyForChan, error) {
	var idmutex map[string]*waitingChan
	select {
	// lock idmutex
	case idmutex = <-s.idmutex:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var result chan<- emptyForChan

	m, found := idmutex[id]
waitloop:
	for {
		if !found {
			break waitloop
		}

		// unlock idmutex
		s.idmutex <- idmutex

		// wait on done
		select {
		case <-m.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// lock idmutex again
		select {
		case idmutex = <-s.idmutex:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m, found = idmutex[id]
	}

	idmutex[id], result = newWaiter()

	s.idmutex <- idmutex

	return result, nil
}

func (s *Svc) unlockId(id string, closer chan<- emptyForChan) {
	// lock
	idmutex := <-s.idmutex
	delete(idmutex, id)
	close(closer)
	// unlock
	s.idmutex <- idmutex
}
