package queue

import "sync"

// Item is one queued message.
type Item struct {
	Data []byte
	Prio uint32

	next, prev *Item
}

var pool = sync.Pool{}

func getItem(data []byte, prio uint32) (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = new(Item)
	} else {
		i = pi.(*Item)
	}

	i.Data = append(i.Data[:0], data...)
	i.Prio = prio
	return i
}

func returnItem(i *Item) {
	i.prev, i.next = nil, nil
	pool.Put(i)
}
